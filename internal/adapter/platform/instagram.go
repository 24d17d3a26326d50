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
	"strings"
	"time"

	"clipcast/internal/domain"
)

const igBaseURL = "https://graph.facebook.com/v19.0"

// Instagram publishes a reel through the async container protocol: create a
// processing container from the raw bytes, poll its status until the platform
// reports it ready, then publish it. The whole sequence is retried once when
// the container never becomes ready within the poll bound.
type Instagram struct {
	BaseURL      string
	PollInterval time.Duration
	PollBound    time.Duration
	client       *http.Client
	now          func() time.Time
}

// NewInstagram creates the Instagram uploader against the production Graph API.
func NewInstagram() *Instagram {
	return &Instagram{
		BaseURL:      igBaseURL,
		PollInterval: 3 * time.Second,
		PollBound:    60 * time.Second,
		client:       &http.Client{Timeout: 5 * time.Minute},
		now:          time.Now,
	}
}

func (i *Instagram) Platform() domain.Platform { return domain.PlatformInstagram }

// Upload implements domain.Uploader.
func (i *Instagram) Upload(ctx context.Context, localPath, caption string, creds domain.Credentials) (string, error) {
	postID, err := i.publishOnce(ctx, localPath, caption, creds)
	if err != nil && domain.KindOf(err) == domain.KindProcessingTimeout {
		// One full-sequence retry; a second timeout is terminal.
		postID, err = i.publishOnce(ctx, localPath, caption, creds)
	}
	return postID, err
}

func (i *Instagram) publishOnce(ctx context.Context, localPath, caption string, creds domain.Credentials) (string, error) {
	containerID, err := i.createContainer(ctx, localPath, caption, creds)
	if err != nil {
		return "", err
	}
	if err := i.waitReady(ctx, containerID, creds); err != nil {
		return "", err
	}
	return i.publish(ctx, containerID, creds)
}

// createContainer uploads the raw bytes into a new reels container.
func (i *Instagram) createContainer(ctx context.Context, localPath, caption string, creds domain.Credentials) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", transportError("instagram container", fmt.Errorf("open local media: %w", err))
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("media_type", "REELS")
	mw.WriteField("caption", caption)
	mw.WriteField("access_token", creds.AccessToken)
	part, err := mw.CreateFormFile("video_file", "video.mp4")
	if err != nil {
		return "", transportError("instagram container", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", transportError("instagram container", err)
	}
	mw.Close()

	endpoint := i.BaseURL + "/" + creds.AccountID + "/media"
	var result struct {
		ID string `json:"id"`
	}
	if err := i.post(ctx, "instagram container", endpoint, mw.FormDataContentType(), &buf, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", domain.Errf(domain.KindPermanent, "instagram container", "no container id in response")
	}
	return result.ID, nil
}

// waitReady polls the container status at a fixed interval until the platform
// reports it finished, the container errors out, or the poll bound elapses.
func (i *Instagram) waitReady(ctx context.Context, containerID string, creds domain.Credentials) error {
	deadline := i.now().Add(i.PollBound)
	statusURL := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s",
		i.BaseURL, containerID, url.QueryEscape(creds.AccessToken))

	for {
		if !i.now().Before(deadline) {
			return domain.Errf(domain.KindProcessingTimeout, "instagram",
				"container %s not ready within %s (processing timeout)", containerID, i.PollBound)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return transportError("instagram status", err)
		}
		resp, err := i.client.Do(req)
		if err != nil {
			return transportError("instagram status", err)
		}
		var status struct {
			StatusCode string `json:"status_code"`
		}
		if resp.StatusCode != http.StatusOK {
			err := statusError("instagram status", resp)
			resp.Body.Close()
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			resp.Body.Close()
			return transportError("instagram status", err)
		}
		resp.Body.Close()

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return domain.Errf(domain.KindPermanent, "instagram",
				"container %s processing failed: %s", containerID, status.StatusCode)
		}
		// IN_PROGRESS: keep polling.
	}
}

// publish turns the finished container into a visible post.
func (i *Instagram) publish(ctx context.Context, containerID string, creds domain.Credentials) (string, error) {
	form := url.Values{
		"creation_id":  {containerID},
		"access_token": {creds.AccessToken},
	}
	endpoint := i.BaseURL + "/" + creds.AccountID + "/media_publish"

	var result struct {
		ID string `json:"id"`
	}
	err := i.post(ctx, "instagram publish", endpoint,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &result)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", domain.Errf(domain.KindPermanent, "instagram publish", "no post id in response")
	}
	return result.ID, nil
}

func (i *Instagram) post(ctx context.Context, op, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return transportError(op, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := i.client.Do(req)
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
