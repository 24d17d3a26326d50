package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"clipcast/internal/domain"
)

const tiktokBaseURL = "https://open.tiktokapis.com"

// TikTok publishes a video with the three-step direct-post protocol:
// register an upload slot, stream the bytes to it, then finalize the post.
// A failed finalize after a successful transfer retries the finalize call
// alone instead of re-uploading the bytes.
type TikTok struct {
	BaseURL         string
	client          *http.Client
	finalizeRetries int
}

// NewTikTok creates the TikTok uploader against the production API.
func NewTikTok() *TikTok {
	return &TikTok{
		BaseURL:         tiktokBaseURL,
		client:          &http.Client{Timeout: 5 * time.Minute},
		finalizeRetries: 2,
	}
}

func (t *TikTok) Platform() domain.Platform { return domain.PlatformTikTok }

type tiktokSlot struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

type tiktokEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload implements domain.Uploader.
func (t *TikTok) Upload(ctx context.Context, localPath, caption string, creds domain.Credentials) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", transportError("tiktok", fmt.Errorf("open local media: %w", err))
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", transportError("tiktok", err)
	}

	slot, err := t.initUpload(ctx, caption, info.Size(), creds)
	if err != nil {
		return "", err
	}
	if err := t.transfer(ctx, slot.UploadURL, file, info.Size()); err != nil {
		return "", err
	}
	return t.finalize(ctx, slot.PublishID, creds)
}

// initUpload registers an upload slot and returns its handle.
func (t *TikTok) initUpload(ctx context.Context, caption string, size int64, creds domain.Credentials) (*tiktokSlot, error) {
	body, _ := json.Marshal(map[string]any{
		"post_info": map[string]any{
			"title":         caption,
			"privacy_level": "PUBLIC_TO_EVERYONE",
		},
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        size,
			"chunk_size":        size,
			"total_chunk_count": 1,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.BaseURL+"/v2/post/publish/video/init/", bytes.NewReader(body))
	if err != nil {
		return nil, transportError("tiktok init", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportError("tiktok init", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("tiktok init", resp)
	}

	var envelope tiktokEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, transportError("tiktok init", err)
	}
	if err := tiktokAPIError("tiktok init", envelope); err != nil {
		return nil, err
	}

	var slot tiktokSlot
	if err := json.Unmarshal(envelope.Data, &slot); err != nil {
		return nil, transportError("tiktok init", err)
	}
	if slot.PublishID == "" || slot.UploadURL == "" {
		return nil, domain.Errf(domain.KindPermanent, "tiktok init", "empty upload slot in response")
	}
	return &slot, nil
}

// transfer streams the raw file bytes to the upload slot.
func (t *TikTok) transfer(ctx context.Context, uploadURL string, file *os.File, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, file)
	if err != nil {
		return transportError("tiktok transfer", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	resp, err := t.client.Do(req)
	if err != nil {
		return transportError("tiktok transfer", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("tiktok transfer", resp)
	}
	return nil
}

// finalize creates the visible post referencing the uploaded bytes. Transient
// failures here retry only this call; the bytes are already on the platform.
func (t *TikTok) finalize(ctx context.Context, publishID string, creds domain.Credentials) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= t.finalizeRetries; attempt++ {
		postID, err := t.commit(ctx, publishID, creds)
		if err == nil {
			return postID, nil
		}
		lastErr = err
		if !domain.Retryable(err) {
			break
		}
	}
	return "", lastErr
}

func (t *TikTok) commit(ctx context.Context, publishID string, creds domain.Credentials) (string, error) {
	body, _ := json.Marshal(map[string]string{"publish_id": publishID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.BaseURL+"/v2/post/publish/commit/", bytes.NewReader(body))
	if err != nil {
		return "", transportError("tiktok finalize", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", transportError("tiktok finalize", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("tiktok finalize", resp)
	}

	var envelope tiktokEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", transportError("tiktok finalize", err)
	}
	if err := tiktokAPIError("tiktok finalize", envelope); err != nil {
		return "", err
	}

	var data struct {
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return "", transportError("tiktok finalize", err)
	}
	if data.PostID == "" {
		return "", domain.Errf(domain.KindPermanent, "tiktok finalize", "no post id in response")
	}
	return data.PostID, nil
}

// tiktokAPIError maps the in-band error codes TikTok returns with HTTP 200.
func tiktokAPIError(op string, envelope tiktokEnvelope) error {
	code := envelope.Error.Code
	if code == "" || code == "ok" {
		return nil
	}
	kind := domain.KindPermanent
	switch code {
	case "access_token_invalid", "scope_not_authorized":
		kind = domain.KindAuth
	case "rate_limit_exceeded", "spam_risk_too_many_posts":
		kind = domain.KindRateLimit
	case "internal_error":
		kind = domain.KindTransient
	}
	return domain.Errf(kind, op, "%s: %s", code, envelope.Error.Message)
}
