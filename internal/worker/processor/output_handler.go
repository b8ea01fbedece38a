package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vidforge/internal/domain/job"
	"vidforge/internal/ports"
)

// OutputKeys are the object keys the render engine writes under the shared
// scratch root and the worker uploads to the storage provider.
type OutputKeys struct {
	Video string
	Thumb string
}

// OutputKeysFor derives the output keys for a job.
func OutputKeysFor(j *job.Job) OutputKeys {
	format := j.Request.OutputSettings.Format
	if format == "" {
		format = job.DefaultFormat
	}
	return OutputKeys{
		Video: fmt.Sprintf("renders/%s/video.%s", j.ID, format),
		Thumb: fmt.Sprintf("renders/%s/thumb.jpg", j.ID),
	}
}

const signedURLTTL = 24 * time.Hour

// OutputHandler uploads rendered artifacts and builds the job result.
type OutputHandler struct {
	sp          ports.StorageProvider
	scratchRoot string
}

func NewOutputHandler(sp ports.StorageProvider, scratchRoot string) *OutputHandler {
	return &OutputHandler{sp: sp, scratchRoot: scratchRoot}
}

// Collect uploads the engine's outputs for j and returns the result payload.
// The video artifact is required; a missing thumbnail is tolerated.
func (oh *OutputHandler) Collect(ctx context.Context, j *job.Job) (job.Result, error) {
	keys := OutputKeysFor(j)

	videoRef, err := oh.upload(ctx, keys.Video, "video/"+j.Request.OutputSettings.Format)
	if err != nil {
		return job.Result{}, fmt.Errorf("collect video output: %w", err)
	}

	result := job.Result{
		VideoURL:   videoRef,
		Format:     j.Request.OutputSettings.Format,
		Resolution: j.Request.OutputSettings.Resolution,
	}

	if oh.scratchFileExists(keys.Thumb) {
		thumbRef, err := oh.upload(ctx, keys.Thumb, "image/jpeg")
		if err != nil {
			return job.Result{}, fmt.Errorf("collect thumbnail output: %w", err)
		}
		result.ThumbnailURL = thumbRef
	}

	return result, nil
}

func (oh *OutputHandler) upload(ctx context.Context, objectKey, contentType string) (string, error) {
	localPath := filepath.Join(oh.scratchRoot, filepath.FromSlash(objectKey))
	st, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("render output missing: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open render output: %w", err)
	}
	defer f.Close()

	uploaded, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", fmt.Errorf("upload render output: %w", err)
	}

	// Prefer a signed URL when the provider supports signing; fall back to
	// the stored object key.
	if signed, err := oh.sp.GetSignedURL(ctx, uploaded.ObjectKey, signedURLTTL); err == nil && signed.URL != "" {
		return signed.URL, nil
	}
	return uploaded.ObjectKey, nil
}

func (oh *OutputHandler) scratchFileExists(objectKey string) bool {
	_, err := os.Stat(filepath.Join(oh.scratchRoot, filepath.FromSlash(objectKey)))
	return err == nil
}
