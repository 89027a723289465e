package influxdb

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/config"
)

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{"defaults", config.InfluxDBConfig{}, defaultBatchSize, 10000},
		{"negative", config.InfluxDBConfig{BatchSize: -5, FlushInterval: -1}, defaultBatchSize, 10000},
		{"configured", config.InfluxDBConfig{BatchSize: 500, FlushInterval: 2}, 500, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := clientOptions(tt.cfg, nil)
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}

func TestWithDefaultTag(t *testing.T) {
	opts := clientOptions(config.InfluxDBConfig{}, []Option{
		WithDefaultTag("bridge", "fah"),
		WithDefaultTag("site", "home"),
	})

	tags := opts.WriteOptions().DefaultTags()
	if tags["bridge"] != "fah" || tags["site"] != "home" {
		t.Errorf("DefaultTags() = %v", tags)
	}
}

func TestClient_WriteErrorsCounted(t *testing.T) {
	c := &Client{}
	errs := make(chan error, 2)

	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	errs <- errTest
	errs <- errTest
	close(errs)
	c.handleWriteErrors(errs)

	if c.WriteErrors() != 2 || len(got) != 2 {
		t.Fatalf("WriteErrors() = %d, callbacks = %d", c.WriteErrors(), len(got))
	}
	if !errors.Is(got[0], ErrWriteFailed) || !errors.Is(got[0], errTest) {
		t.Errorf("callback error = %v, want ErrWriteFailed wrapping the cause", got[0])
	}
}

var errTest = errors.New("bucket not found")
