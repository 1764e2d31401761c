package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/permafrostdb/permafrost/utils"
	"github.com/rs/zerolog"
)

// S3Backing marks a disk as S3-backed: parts reserved on it are written to
// the local staging path first and their files uploaded on publication.
type S3Backing struct {
	Bucket string
	Prefix string
}

// UploadFile streams one part file to the backing bucket.
func (s *S3Backing) UploadFile(ctx context.Context, key string, byteStream io.Reader) error {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return fmt.Errorf("error making new session: %w", err)
	}

	uploader := s3manager.NewUploader(s3Session)

	input := &s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
		Body:   byteStream,
	}

	start := time.Now()
	_, err = uploader.UploadWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(start)
	logger.Debug().Str("key", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded part file to s3")

	return nil
}
