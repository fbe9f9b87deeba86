package persistence

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/vmihailenco/msgpack/v5"
)

// S3Archive is the optional archival backend for data older than the
// trajectory store's in-memory retention window (§13.1). Every object
// is msgpack-encoded then zstd-compressed, following the same
// encode-then-compress pipeline the teacher pack uses for its own
// object storage tier.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive builds an S3Archive against bucket, using the default
// AWS credential chain (environment, shared config, instance role).
func NewS3Archive(ctx context.Context, bucket, keyPrefix string) (*S3Archive, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &Error{Op: "s3_archive_init", Class: ClassPermanent, Err: err}
	}
	return &S3Archive{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(keyPrefix, "/"),
	}, nil
}

func (a *S3Archive) key(parts ...string) string {
	all := append([]string{a.prefix}, parts...)
	return strings.Trim(strings.Join(all, "/"), "/")
}

func encodeObject(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	if err := msgpack.NewEncoder(zw).Encode(v); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeObject(r io.Reader, v any) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	return msgpack.NewDecoder(zr).Decode(v)
}

// classify maps an S3 error to transient/permanent per §7: a missing
// object (NoSuchKey) is permanent; every other error, including access
// errors, timeouts, throttling and 5xx, is classed as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return &Error{Op: op, Class: ClassPermanent, Err: err}
	}
	return &Error{Op: op, Class: ClassTransient, Err: err}
}

func (a *S3Archive) putObject(ctx context.Context, op, key string, v any) error {
	body, err := encodeObject(v)
	if err != nil {
		return &Error{Op: op, Class: ClassPermanent, Err: err}
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return classify(op, err)
}

func (a *S3Archive) getObject(ctx context.Context, op, key string, v any) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(op, err)
	}
	defer out.Body.Close()
	if err := decodeObject(out.Body, v); err != nil {
		return &Error{Op: op, Class: ClassPermanent, Err: err}
	}
	return nil
}

func (a *S3Archive) listKeys(ctx context.Context, op, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classify(op, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (a *S3Archive) PutMission(ctx context.Context, m MissionRecord) error {
	return a.putObject(ctx, "put_mission", a.key("missions", m.ID+".msgpack.zst"), m)
}

func (a *S3Archive) GetMission(ctx context.Context, id string) (MissionRecord, error) {
	var m MissionRecord
	err := a.getObject(ctx, "get_mission", a.key("missions", id+".msgpack.zst"), &m)
	return m, err
}

func (a *S3Archive) ListMissions(ctx context.Context, filter MissionFilter) ([]MissionRecord, error) {
	keys, err := a.listKeys(ctx, "list_missions", a.key("missions")+"/")
	if err != nil {
		return nil, err
	}
	out := make([]MissionRecord, 0, len(keys))
	for _, key := range keys {
		var m MissionRecord
		if err := a.getObject(ctx, "list_missions", key, &m); err != nil {
			continue
		}
		if filter.Vehicle != "" && m.Vehicle != filter.Vehicle {
			continue
		}
		if filter.State != "" && m.State != filter.State {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *S3Archive) AppendTrajectory(ctx context.Context, rec TrajectoryRecord) error {
	key := a.key("trajectory", string(rec.Vehicle), strconv.FormatInt(rec.Timestamp.UnixNano(), 10)+".msgpack.zst")
	return a.putObject(ctx, "append_trajectory", key, rec)
}

func (a *S3Archive) RangeTrajectory(ctx context.Context, vehicle fleet.VehicleID, from, to time.Time) ([]TrajectoryRecord, error) {
	keys, err := a.listKeys(ctx, "range_trajectory", a.key("trajectory", string(vehicle))+"/")
	if err != nil {
		return nil, err
	}
	out := make([]TrajectoryRecord, 0, len(keys))
	for _, key := range keys {
		var rec TrajectoryRecord
		if err := a.getObject(ctx, "range_trajectory", key, &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *S3Archive) AppendConflictEvent(ctx context.Context, c ConflictRecord) error {
	key := a.key("conflicts", strconv.FormatInt(c.Timestamp.UnixNano(), 10)+".msgpack.zst")
	return a.putObject(ctx, "append_conflict_event", key, c)
}

func (a *S3Archive) RangeConflicts(ctx context.Context, from, to time.Time) ([]ConflictRecord, error) {
	keys, err := a.listKeys(ctx, "range_conflicts", a.key("conflicts")+"/")
	if err != nil {
		return nil, err
	}
	out := make([]ConflictRecord, 0, len(keys))
	for _, key := range keys {
		var c ConflictRecord
		if err := a.getObject(ctx, "range_conflicts", key, &c); err != nil {
			continue
		}
		if c.Timestamp.Before(from) || c.Timestamp.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

var _ Store = (*S3Archive)(nil)
