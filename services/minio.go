package services

import (
	gocontext "context"
	"fmt"
	"os"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// MinioService archives log exports to object storage. Optional: without
// MINIO_ENDPOINT the service stays disabled and exports remain local only.
type MinioService struct {
	context.DefaultService
	client     *minio.Client
	bucketName string
	endpoint   string
	accessKey  string
	secretKey  string
	useSSL     bool
}

const MINIO_SVC = "minio_svc"

func (svc MinioService) Id() string {
	return MINIO_SVC
}

func (svc *MinioService) Configure(ctx *context.Context) error {
	svc.endpoint = os.Getenv("MINIO_ENDPOINT")

	svc.accessKey = os.Getenv("MINIO_ACCESS_KEY")
	if svc.accessKey == "" {
		svc.accessKey = "admin"
	}

	svc.secretKey = os.Getenv("MINIO_SECRET_KEY")
	if svc.secretKey == "" {
		svc.secretKey = "password123"
	}

	svc.useSSL = os.Getenv("MINIO_USE_SSL") == "true"

	svc.bucketName = os.Getenv("MINIO_BUCKET_NAME")
	if svc.bucketName == "" {
		svc.bucketName = "sentinel-archives"
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *MinioService) Enabled() bool {
	return svc.client != nil
}

func (svc *MinioService) Start() error {
	if svc.endpoint == "" {
		log.Println("MinIO archiving disabled, MINIO_ENDPOINT not set")
		return nil
	}

	client, err := minio.New(svc.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(svc.accessKey, svc.secretKey, ""),
		Secure: svc.useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %v", err)
	}

	svc.client = client

	if err := svc.ensureBucket(); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %v", err)
	}

	log.Printf("MinIO service started successfully with endpoint: %s", svc.endpoint)
	return nil
}

func (svc *MinioService) ensureBucket() error {
	ctx := gocontext.Background()

	exists, err := svc.client.BucketExists(ctx, svc.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = svc.client.MakeBucket(ctx, svc.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
		log.Printf("Created MinIO bucket: %s", svc.bucketName)
	}

	return nil
}

// UploadFile archives a local file under the configured bucket.
func (svc *MinioService) UploadFile(ctx gocontext.Context, objectName, filePath, contentType string) error {
	if !svc.Enabled() {
		return fmt.Errorf("minio archiving is disabled")
	}

	_, err := svc.client.FPutObject(ctx, svc.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to MinIO: %v", err)
	}

	return nil
}

// GetFileURL returns a presigned download link for an archived object.
func (svc *MinioService) GetFileURL(ctx gocontext.Context, objectName string, expiry time.Duration) (string, error) {
	if !svc.Enabled() {
		return "", fmt.Errorf("minio archiving is disabled")
	}

	presignedURL, err := svc.client.PresignedGetObject(ctx, svc.bucketName, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %v", err)
	}

	return presignedURL.String(), nil
}
