// Package uploader ships closed recording files to S3.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/john/unichat/internal/recorder"
)

// objectPutter is the part of *s3.Client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configure an Uploader. RoleARN selects OIDC web identity; otherwise the static
// key pair is used.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	RoleARN         string
	TokenSocket     string
	AccessKeyID     string
	SecretAccessKey string
	DeleteAfter     bool
	MaxRetries      int
	Logger          *slog.Logger
}

// Uploader handles uploading completed recording files to S3
type Uploader struct {
	s3Client    objectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	backoff     time.Duration
	logger      *slog.Logger
}

// flyTokenRetriever implements stscreds.IdentityTokenRetriever for Fly.io OIDC
type flyTokenRetriever struct {
	socketPath string
	audience   string
}

// GetIdentityToken fetches an OIDC token from Fly.io's Unix socket API
func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", f.socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	reqBody, err := json.Marshal(map[string]string{"aud": f.audience})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.Post("http://localhost/v1/tokens/oidc", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// New creates an S3 uploader.
func New(ctx context.Context, opts Options) (*Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.RoleARN == "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		socket := opts.TokenSocket
		if socket == "" {
			socket = "/.fly/api"
		}
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(cfg),
			opts.RoleARN,
			&flyTokenRetriever{socketPath: socket, audience: "sts.amazonaws.com"},
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newUploader(client, opts), nil
}

func newUploader(client objectPutter, opts Options) *Uploader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		s3Client:    client,
		bucket:      opts.Bucket,
		deleteAfter: opts.DeleteAfter,
		maxRetries:  opts.MaxRetries,
		backoff:     time.Second,
		logger:      logger.With("component", "uploader"),
	}
}

// ScanAndUploadExisting uploads .jsonl files left in outputDir by a previous run.
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	u.logger.Info("scanning for existing files to upload", "dir", outputDir)

	entries, err := os.ReadDir(outputDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var filesToUpload []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			filesToUpload = append(filesToUpload, filepath.Join(outputDir, entry.Name()))
		}
	}
	if len(filesToUpload) == 0 {
		u.logger.Info("no existing files found to upload")
		return nil
	}

	u.logger.Info("found existing files to upload", "count", len(filesToUpload))
	for _, path := range filesToUpload {
		go u.UploadWithRetry(ctx, path)
	}
	return nil
}

// Start uploads every path received on fileChan until ctx is cancelled.
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case localPath := <-fileChan:
			go u.UploadWithRetry(ctx, localPath)

		case <-ctx.Done():
			u.logger.Info("uploader shutting down...")
			return ctx.Err()
		}
	}
}

// UploadWithRetry uploads localPath, backing off exponentially between attempts.
func (u *Uploader) UploadWithRetry(ctx context.Context, localPath string) error {
	filename := filepath.Base(localPath)

	key, err := ObjectKey(filename)
	if err != nil {
		u.logger.Error("error generating S3 key", "file", filename, "error", err)
		return err
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err = u.uploadFile(ctx, localPath, key)
		if err == nil {
			u.logger.Info("uploaded file", "file", filename, "location", "s3://"+u.bucket+"/"+key)
			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					u.logger.Error("error deleting local file", "file", localPath, "error", err)
				}
			}
			return nil
		}

		if attempt < u.maxRetries {
			backoff := u.backoff << uint(attempt)
			u.logger.Warn("upload attempt failed", "attempt", attempt+1, "max", u.maxRetries, "file", filename, "retry_in", backoff, "error", err)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	u.logger.Error("failed to upload file", "file", filename, "attempts", u.maxRetries+1, "error", err)
	return err
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ObjectKey maps a recording file name to its S3 key.
// Input: twitch-chat_20251230_103000.jsonl
// Output: 2025/12/30/twitch-chat/twitch-chat_20251230_103000.jsonl
func ObjectKey(filename string) (string, error) {
	name := strings.TrimSuffix(filename, ".jsonl")

	// Scraper ids never contain underscores, so the id is everything before the first one.
	scraperID, stamp, ok := strings.Cut(name, "_")
	if !ok || scraperID == "" {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	t, err := time.Parse(recorder.FileTimeLayout, stamp)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}
	return fmt.Sprintf("%04d/%02d/%02d/%s/%s", t.Year(), t.Month(), t.Day(), scraperID, filename), nil
}
