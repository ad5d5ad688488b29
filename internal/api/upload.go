package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// UploadError is returned for any failed segment upload. StatusCode is 0
// for transport failures.
type UploadError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Message)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Segment is one finished audio segment ready for upload.
type Segment struct {
	MeetingID string
	SessionID string
	Role      types.Role
	Sequence  int
	StartedAt time.Time
	Duration  time.Duration
	Final     bool
	Path      string // WAV file on local disk
}

// Filename returns the timestamp-derived upload filename.
func (s *Segment) Filename() string {
	return fmt.Sprintf("recording_%d.wav", s.StartedAt.UnixMilli())
}

// UploadSegment posts the segment body as multipart form data. Non-2xx
// responses and transport failures are both reported as *UploadError.
func (c *Client) UploadSegment(ctx context.Context, seg *Segment, body io.Reader) (*types.UploadAck, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(form, seg, body))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		_ = pr.Close()
		return nil, &UploadError{Err: err}
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, &UploadError{Err: err}
	}
	defer util.SafeCloseFunc(resp.Body, "upload response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UploadError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var ack types.UploadAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, &UploadError{StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return &ack, nil
}

func writeForm(form *multipart.Writer, seg *Segment, body io.Reader) error {
	fields := [][2]string{
		{"meeting_id", seg.MeetingID},
		{"session_id", seg.SessionID},
		{"recorder_role", string(seg.Role)},
		{"sequence", fmt.Sprintf("%d", seg.Sequence)},
		{"duration_ms", fmt.Sprintf("%d", seg.Duration.Milliseconds())},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile("audio_file", seg.Filename())
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return form.Close()
}
