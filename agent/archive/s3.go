// Package archive optionally uploads Result screenshots to S3 instead of
// inlining them as base64, replacing each image with a presigned URL
// reference. Grounded on the teacher's session-recording upload manager
// (services/execution_bridge/s3_upload_manager.go), adapted from a
// streaming gzip video upload to a plain in-memory PNG PutObject since a
// screenshot is small and already compressed.
package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"mitchell-agent/logger"
)

const presignTTL = 24 * time.Hour

// ScreenshotArchiver uploads Result images to a configured S3 bucket and
// hands back presigned GET URLs in place of inline bytes.
type ScreenshotArchiver struct {
	s3     *s3.S3
	bucket string
}

// New builds a ScreenshotArchiver against bucket, using the default AWS
// credential chain (environment, shared config, instance role). Returns
// nil if bucket is empty, so callers can treat archival as always-on and
// let a nil *ScreenshotArchiver mean "disabled".
func New(bucket string) *ScreenshotArchiver {
	if bucket == "" {
		return nil
	}
	sess := session.Must(session.NewSession(&aws.Config{
		Region: aws.String("us-east-1"),
	}))
	return &ScreenshotArchiver{s3: s3.New(sess), bucket: bucket}
}

// Upload puts one screenshot under screenshots/shopID/requestID/index.png and returns
// a presigned GET URL valid for 24h, for the Request Handler to embed in
// Result.Images in place of the raw bytes.
func (a *ScreenshotArchiver) Upload(shopID, requestID string, index int, png []byte) (string, error) {
	key := fmt.Sprintf("screenshots/%s/%s/%d.png", shopID, requestID, index)

	_, err := a.s3.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		logger.Error("screenshot archival upload failed", zap.Error(err))
		return "", fmt.Errorf("upload screenshot: %w", err)
	}

	req, _ := a.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign screenshot url: %w", err)
	}
	return url, nil
}
