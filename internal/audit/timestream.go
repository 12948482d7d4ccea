package audit

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	tstypes "github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/denisbrodbeck/machineid"
)

// sourceBucketLabel marks records that originate outside AWS, matching what
// the mission dashboards already group on.
const sourceBucketLabel = "External Server"

// TimestreamConfig describes the table records land in.
type TimestreamConfig struct {
	Database string
	Table    string
	Region   string
	Bucket   string // destination bucket stamped on upload records
}

// TimestreamSink writes one record per event. Each record carries enough
// dimensions to trace an object back to the host and watcher that moved it.
type TimestreamSink struct {
	client  *timestreamwrite.Client
	cfg     TimestreamConfig
	host    string
	watcher string
}

func NewTimestreamSink(ctx context.Context, cfg TimestreamConfig) (*TimestreamSink, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("timestream aws config: %w", err)
	}

	host, _ := os.Hostname()
	id, err := machineid.ProtectedID("fswatcher")
	if err != nil {
		id = host
	}

	return &TimestreamSink{
		client:  timestreamwrite.NewFromConfig(awsCfg),
		cfg:     cfg,
		host:    host,
		watcher: id,
	}, nil
}

func (s *TimestreamSink) Name() string { return "timestream" }

func (s *TimestreamSink) Record(ctx context.Context, ev Event) error {
	record := s.buildRecord(ev)
	_, err := s.client.WriteRecords(ctx, &timestreamwrite.WriteRecordsInput{
		DatabaseName: aws.String(s.cfg.Database),
		TableName:    aws.String(s.cfg.Table),
		Records:      []tstypes.Record{record},
	})
	if err != nil {
		return fmt.Errorf("timestream write: %w", err)
	}
	return nil
}

func (s *TimestreamSink) buildRecord(ev Event) tstypes.Record {
	dims := []tstypes.Dimension{
		{Name: aws.String("action_type"), Value: aws.String(ev.Action)},
		{Name: aws.String("source_bucket"), Value: aws.String(sourceBucketLabel)},
		{Name: aws.String("source_host"), Value: aws.String(s.host)},
		{Name: aws.String("watcher_id"), Value: aws.String(s.watcher)},
	}
	// deletions have no destination
	if ev.Action != "DELETE" && s.cfg.Bucket != "" {
		dims = append(dims, tstypes.Dimension{
			Name: aws.String("destination_bucket"), Value: aws.String(s.cfg.Bucket),
		})
	}
	if ev.Path != "" {
		dims = append(dims, tstypes.Dimension{
			Name: aws.String("file_key"), Value: aws.String(ev.Path),
		})
	}
	if ev.Key != "" {
		dims = append(dims, tstypes.Dimension{
			Name: aws.String("new_file_key"), Value: aws.String(ev.Key),
		})
	}
	if ev.Outcome != "" {
		dims = append(dims, tstypes.Dimension{
			Name: aws.String("outcome"), Value: aws.String(ev.Outcome),
		})
	}

	return tstypes.Record{
		Dimensions:       dims,
		MeasureName:      aws.String("duration_ms"),
		MeasureValue:     aws.String(strconv.FormatInt(ev.Duration.Milliseconds(), 10)),
		MeasureValueType: tstypes.MeasureValueTypeBigint,
		Time:             aws.String(strconv.FormatInt(ev.At.UnixMilli(), 10)),
		TimeUnit:         tstypes.TimeUnitMilliseconds,
	}
}
