// Package artifacts persists a session's transcript (the request prompt,
// the frame log, the final reply, and its metrics) for later audit or
// debugging, backed by pkg/storage.FileStore.
package artifacts

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relaygrid/framegate/pkg/frame/config"
	"github.com/relaygrid/framegate/pkg/storage"
)

// Sink persists one named artifact under a session's namespace.
type Sink interface {
	Put(ctx context.Context, sessionID, name string, data []byte) error
}

// FileSink adapts any storage.FileStore into a Sink, namespacing every
// write under "<sessionID>/<name>".
type FileSink struct {
	store storage.FileStore
}

// NewFileSink wraps store as a Sink.
func NewFileSink(store storage.FileStore) *FileSink {
	return &FileSink{store: store}
}

func (s *FileSink) Put(ctx context.Context, sessionID, name string, data []byte) error {
	w, err := s.store.Write(ctx, path.Join(sessionID, name))
	if err != nil {
		return fmt.Errorf("artifacts: open %s/%s: %w", sessionID, name, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("artifacts: write %s/%s: %w", sessionID, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("artifacts: close %s/%s: %w", sessionID, name, err)
	}
	return nil
}

// staticCredentials supplies a fixed access key pair read once at startup,
// passed as a plain constructor argument rather than resolved from a
// provider chain.
type staticCredentials struct {
	accessKeyID, secretAccessKey string
}

func (c staticCredentials) Retrieve(context.Context) (aws.Credentials, error) {
	return aws.Credentials{AccessKeyID: c.accessKeyID, SecretAccessKey: c.secretAccessKey}, nil
}

// NewFromConfig builds the artifacts Sink named by cfg: a local directory
// or an S3-compatible bucket.
func NewFromConfig(cfg config.ArtifactsConfig, region, accessKeyID, secretAccessKey string) (Sink, error) {
	switch cfg.Backend {
	case "", "local":
		store, err := storage.NewLocal(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("artifacts: local backend: %w", err)
		}
		return NewFileSink(store), nil

	case "s3":
		awsCfg := aws.Config{
			Region:      region,
			Credentials: staticCredentials{accessKeyID: accessKeyID, secretAccessKey: secretAccessKey},
		}
		client := s3.NewFromConfig(awsCfg)
		return NewFileSink(storage.NewS3(client, cfg.Root, cfg.Prefix)), nil

	default:
		return nil, fmt.Errorf("artifacts: unknown backend %q", cfg.Backend)
	}
}
