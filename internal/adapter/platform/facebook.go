package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"clipcast/internal/domain"
)

const fbBaseURL = "https://graph-video.facebook.com/v19.0"

// Facebook publishes a page video, branching on file size: small files go up
// in one multipart request, large ones through a resumable chunked session
// (start, sequential transfers, finish). A failed chunk is retried on its
// own; only after the per-chunk retries run out does the session abort.
type Facebook struct {
	BaseURL        string
	ChunkThreshold int64
	ChunkSize      int64
	client         *http.Client
	chunkRetries   int
	chunkTimeout   time.Duration
}

// NewFacebook creates the Facebook uploader against the production Graph API.
func NewFacebook() *Facebook {
	return &Facebook{
		BaseURL:        fbBaseURL,
		ChunkThreshold: 50 << 20,
		ChunkSize:      8 << 20,
		client:         &http.Client{Timeout: 10 * time.Minute},
		chunkRetries:   2,
		chunkTimeout:   2 * time.Minute,
	}
}

func (f *Facebook) Platform() domain.Platform { return domain.PlatformFacebook }

// Upload implements domain.Uploader.
func (f *Facebook) Upload(ctx context.Context, localPath, caption string, creds domain.Credentials) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", transportError("facebook", fmt.Errorf("open local media: %w", err))
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", transportError("facebook", err)
	}

	if info.Size() < f.ChunkThreshold {
		return f.uploadSingle(ctx, file, caption, creds)
	}
	return f.uploadResumable(ctx, file, info.Size(), caption, creds)
}

// uploadSingle pushes the whole file in one multipart request.
func (f *Facebook) uploadSingle(ctx context.Context, file *os.File, caption string, creds domain.Credentials) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("description", caption)
	mw.WriteField("access_token", creds.AccessToken)
	part, err := mw.CreateFormFile("source", "video.mp4")
	if err != nil {
		return "", transportError("facebook upload", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", transportError("facebook upload", err)
	}
	mw.Close()

	var result struct {
		ID string `json:"id"`
	}
	if err := f.post(ctx, "facebook upload", f.videosURL(creds), mw.FormDataContentType(), &buf, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", domain.Errf(domain.KindPermanent, "facebook upload", "no video id in response")
	}
	return result.ID, nil
}

// uploadResumable runs the chunked session: start, transfer loop, finish.
func (f *Facebook) uploadResumable(ctx context.Context, file *os.File, size int64, caption string, creds domain.Credentials) (string, error) {
	session, err := f.startSession(ctx, size, creds)
	if err != nil {
		return "", err
	}

	offset := session.StartOffset
	for offset < size {
		end := offset + f.ChunkSize
		if end > size {
			end = size
		}
		next, err := f.transferChunk(ctx, file, session.SessionID, offset, end, creds)
		if err != nil {
			return "", err
		}
		if next <= offset {
			return "", domain.Errf(domain.KindPermanent, "facebook transfer",
				"session stuck at offset %d", offset)
		}
		offset = next
	}

	if err := f.finishSession(ctx, session.SessionID, caption, creds); err != nil {
		return "", err
	}
	return session.VideoID, nil
}

type fbSession struct {
	SessionID   string
	VideoID     string
	StartOffset int64
}

func (f *Facebook) startSession(ctx context.Context, size int64, creds domain.Credentials) (*fbSession, error) {
	form := url.Values{
		"upload_phase": {"start"},
		"file_size":    {strconv.FormatInt(size, 10)},
		"access_token": {creds.AccessToken},
	}

	var result struct {
		SessionID   string `json:"upload_session_id"`
		VideoID     string `json:"video_id"`
		StartOffset string `json:"start_offset"`
	}
	err := f.post(ctx, "facebook start", f.videosURL(creds),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &result)
	if err != nil {
		return nil, err
	}
	if result.SessionID == "" || result.VideoID == "" {
		return nil, domain.Errf(domain.KindPermanent, "facebook start", "incomplete session in response")
	}
	offset, _ := strconv.ParseInt(result.StartOffset, 10, 64)
	return &fbSession{SessionID: result.SessionID, VideoID: result.VideoID, StartOffset: offset}, nil
}

// transferChunk uploads bytes [offset, end) and returns the next offset the
// server expects. Transient chunk failures retry the same chunk.
func (f *Facebook) transferChunk(ctx context.Context, file *os.File, sessionID string, offset, end int64, creds domain.Credentials) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= f.chunkRetries; attempt++ {
		next, err := f.sendChunk(ctx, file, sessionID, offset, end, creds)
		if err == nil {
			return next, nil
		}
		lastErr = err
		if !domain.Retryable(err) {
			break
		}
	}
	return 0, lastErr
}

func (f *Facebook) sendChunk(ctx context.Context, file *os.File, sessionID string, offset, end int64, creds domain.Credentials) (int64, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, f.chunkTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("upload_phase", "transfer")
	mw.WriteField("upload_session_id", sessionID)
	mw.WriteField("start_offset", strconv.FormatInt(offset, 10))
	mw.WriteField("access_token", creds.AccessToken)
	part, err := mw.CreateFormFile("video_file_chunk", "chunk")
	if err != nil {
		return 0, transportError("facebook transfer", err)
	}
	if _, err := io.Copy(part, io.NewSectionReader(file, offset, end-offset)); err != nil {
		return 0, transportError("facebook transfer", err)
	}
	mw.Close()

	var result struct {
		StartOffset string `json:"start_offset"`
	}
	err = f.post(chunkCtx, "facebook transfer", f.videosURL(creds), mw.FormDataContentType(), &buf, &result)
	if err != nil {
		return 0, err
	}
	next, convErr := strconv.ParseInt(result.StartOffset, 10, 64)
	if convErr != nil {
		return 0, transportError("facebook transfer", fmt.Errorf("bad start_offset %q", result.StartOffset))
	}
	return next, nil
}

func (f *Facebook) finishSession(ctx context.Context, sessionID, caption string, creds domain.Credentials) error {
	form := url.Values{
		"upload_phase":      {"finish"},
		"upload_session_id": {sessionID},
		"description":       {caption},
		"access_token":      {creds.AccessToken},
	}

	var result struct {
		Success bool `json:"success"`
	}
	err := f.post(ctx, "facebook finish", f.videosURL(creds),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &result)
	if err != nil {
		return err
	}
	if !result.Success {
		return domain.Errf(domain.KindPermanent, "facebook finish", "platform rejected the session")
	}
	return nil
}

func (f *Facebook) videosURL(creds domain.Credentials) string {
	return f.BaseURL + "/" + creds.AccountID + "/videos"
}

func (f *Facebook) post(ctx context.Context, op, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return transportError(op, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(op, err)
	}
	return nil
}
