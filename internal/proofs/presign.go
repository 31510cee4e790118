// Package proofs hands out presigned upload slots for result screenshots.
// The coordinator stores only the opaque object key (the proof reference) and
// never inspects image content; authenticity is an ops concern.
package proofs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Presigner struct {
	client *s3.PresignClient
	bucket string
	ttl    time.Duration
}

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	TTL             time.Duration
}

func New(ctx context.Context, cfg Config) (*Presigner, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("proof storage bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load proof storage config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if strings.TrimSpace(cfg.Endpoint) != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Presigner{client: s3.NewPresignClient(client), bucket: cfg.Bucket, ttl: ttl}, nil
}

// Slot is one presigned upload: PUT the screenshot to URL, then submit Key as
// the proof reference.
type Slot struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// PresignUpload allocates an object key under results/<battleID>/<playerID>/
// and returns a presigned PUT for it.
func (p *Presigner) PresignUpload(ctx context.Context, battleID, playerID string) (*Slot, error) {
	if strings.TrimSpace(battleID) == "" || strings.TrimSpace(playerID) == "" {
		return nil, fmt.Errorf("battle and player ids are required")
	}
	key := fmt.Sprintf("results/%s/%s/%s.png", battleID, playerID, uuid.NewString())
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("image/png"),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return nil, fmt.Errorf("presign proof upload: %w", err)
	}
	return &Slot{Key: key, URL: req.URL}, nil
}
