package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	defaultRegion  = "auto"
)

// Config addresses an S3-compatible bucket (R2, MinIO, S3) with path-style URLs.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
}

type Client struct {
	endpoint        string
	bucket          string
	region          string
	accessKeyID     string
	secretAccessKey string
	httpClient      *http.Client
	now             func() time.Time
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("endpoint/bucket/access key/secret key are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		endpoint:        strings.TrimRight(u.String(), "/"),
		bucket:          bucket,
		region:          region,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		httpClient:      &http.Client{Timeout: timeout},
		now:             time.Now,
	}, nil
}

// ErrNotFound is returned by StatObject for a missing key.
var ErrNotFound = errors.New("object not found")

// emptyPayload is the sha256 of an empty body, used for HEAD requests.
const emptyPayload = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// PutFile uploads a local segment under objectKey.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	key := normalizeObjectKey(objectKey)
	if key == "" {
		return fmt.Errorf("empty object key %q", objectKey)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPut, key, f, hex.EncodeToString(h.Sum(nil)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/zstd")
	req.ContentLength = st.Size()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return fmt.Errorf("object put failed status=%d key=%s body=%s", resp.StatusCode, key, strings.TrimSpace(string(body)))
}

// StatObject returns the stored size of objectKey, or ErrNotFound.
func (c *Client) StatObject(ctx context.Context, objectKey string) (int64, error) {
	key := normalizeObjectKey(objectKey)
	if key == "" {
		return 0, fmt.Errorf("empty object key %q", objectKey)
	}
	req, err := c.newRequest(ctx, http.MethodHead, key, nil, emptyPayload)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode/100 != 2:
		return 0, fmt.Errorf("object head failed status=%d key=%s", resp.StatusCode, key)
	}
	return resp.ContentLength, nil
}

func (c *Client) newRequest(ctx context.Context, method, key string, body io.Reader, payloadHash string) (*http.Request, error) {
	u := c.endpoint + "/" + c.bucket + "/" + escapePath(key)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	c.sign(req, payloadHash, c.now().UTC())
	return req, nil
}

// sign adds SigV4 headers. Only host, payload hash and date are signed.
func (c *Client) sign(req *http.Request, payloadHash string, now time.Time) {
	stamp := now.Format("20060102T150405Z")
	day := stamp[:8]
	host := req.URL.Host

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	const signed = "host;x-amz-content-sha256;x-amz-date"
	canonical := fmt.Sprintf("%s\n%s\n\nhost:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n\n%s\n%s",
		req.Method, req.URL.EscapedPath(), host, payloadHash, stamp, signed, payloadHash)
	sum := sha256.Sum256([]byte(canonical))

	scope := day + "/" + c.region + "/" + sigV4Service + "/aws4_request"
	toSign := sigV4Algorithm + "\n" + stamp + "\n" + scope + "\n" + hex.EncodeToString(sum[:])

	key := []byte("AWS4" + c.secretAccessKey)
	for _, part := range []string{day, c.region, sigV4Service, "aws4_request"} {
		key = hmacSHA256(key, []byte(part))
	}
	req.Header.Set("Authorization", sigV4Algorithm+" Credential="+c.accessKeyID+"/"+scope+
		", SignedHeaders="+signed+", Signature="+hex.EncodeToString(hmacSHA256(key, []byte(toSign))))
}

func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
