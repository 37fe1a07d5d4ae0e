//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/wave-collocation-service/internal/adapter/kafka"
	"github.com/couchcryptid/wave-collocation-service/internal/adapter/netcdf"
	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/collocation"
	"github.com/couchcryptid/wave-collocation-service/internal/config"
	"github.com/couchcryptid/wave-collocation-service/internal/domain"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
	"github.com/couchcryptid/wave-collocation-service/internal/gridfile"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
	"github.com/couchcryptid/wave-collocation-service/internal/pipeline"
	"github.com/couchcryptid/wave-collocation-service/internal/region"
)

const testSinkTopic = "test-collocated-matches"

var runDay = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// sinkMessage holds a deserialized message read from the sink topic.
type sinkMessage struct {
	Record  map[string]any
	Key     string
	Headers map[string]string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("collocation-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func readSink(ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var rec map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &rec), "unmarshal sink message")
	return sinkMessage{Record: rec, Key: string(msg.Key), Headers: headers}
}

func attrs(t *testing.T, kv map[string]any) api.AttributeMap {
	t.Helper()
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	m, err := util.NewOrderedMap(keys, kv)
	require.NoError(t, err)
	return m
}

func addVars(t *testing.T, path string, names []string, vars map[string]api.Variable) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, cw.AddVar(name, vars[name]), name)
	}
	require.NoError(t, cw.Close())
}

// writeFixtures writes a 2-step model run at 00Z on a 3x4 grid and a track of
// three observations around 01Z, one of them far from the grid.
func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	addVars(t, filepath.Join(dir, "mwam4_2020010100.nc"),
		[]string{"time", "latitude", "longitude", "hs"},
		map[string]api.Variable{
			"time":      {Values: []float64{0, 1}, Dimensions: []string{"time"}, Attributes: attrs(t, map[string]any{"units": "hours since 2020-01-01 00:00:00"})},
			"latitude":  {Values: []float32{60, 60.1, 60.2}, Dimensions: []string{"latitude"}, Attributes: attrs(t, map[string]any{"units": "degrees_north"})},
			"longitude": {Values: []float32{5, 5.1, 5.2, 5.3}, Dimensions: []string{"longitude"}, Attributes: attrs(t, map[string]any{"units": "degrees_east"})},
			"hs": {
				Values: [][][]float32{
					{{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}},
					{{2, 2.1, 2.2, 2.3}, {3, 3.1, 3.2, 3.3}, {4, 4.1, 4.2, 4.3}},
				},
				Dimensions: []string{"time", "latitude", "longitude"},
			},
		})

	addVars(t, filepath.Join(dir, "track_a.nc"),
		[]string{"time", "latitude", "longitude", "VAVH"},
		map[string]api.Variable{
			"time":      {Values: []float64{3595, 3600, 3605}, Dimensions: []string{"time"}, Attributes: attrs(t, map[string]any{"units": "seconds since 2020-01-01 00:00:00"})},
			"latitude":  {Values: []float32{60.1, 60.2, 70}, Dimensions: []string{"time"}},
			"longitude": {Values: []float32{5.1, 5.3, 5}, Dimensions: []string{"time"}},
			"VAVH":      {Values: []float32{3.4, 4.0, 1.0}, Dimensions: []string{"time"}},
		})
}

// TestPipelinePublishesMatches runs a collocation over real NetCDF files and
// verifies every match lands on the sink topic with its key and headers.
func TestPipelinePublishesMatches(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	dir := t.TempDir()
	writeFixtures(t, dir)

	cat, err := catalog.Parse([]byte(fmt.Sprintf(`
models:
  mwam4:
    path_template: '%s/mwam4_{{.Init | date "2006010215"}}.nc'
    init_times: [0]
    max_lead_time: 1
    coords: {lons: longitude, lats: latitude, time: time}
    vars:
      Hs: {name: hs}
`, filepath.ToSlash(dir))))
	require.NoError(t, err)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	reader := netcdf.NewReader(logger)
	cache := gridcache.New(reader, gridcache.DefaultCapacity, metrics)
	resolver := gridfile.NewResolver(logger, metrics)
	masker := region.NewMasker(cat, resolver, cache, clockwork.NewRealClock(), logger)
	writer := kafka.NewWriter(cfg, logger, metrics)
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(cat, pipeline.Stages{
		Files:        resolver,
		Axes:         cache,
		Fields:       reader,
		Observations: netcdf.NewObservationFiles(filepath.Join(dir, "track_*.nc"), "s3a", logger),
		Regions:      masker,
		Collocator:   collocation.NewEngine(masker, logger, metrics),
		Publisher:    writer,
	}, pipeline.Settings{
		Model:       "mwam4",
		Variable:    "Hs",
		ObsVariable: "VAVH",
		Lead:        gridfile.Best(),
		TimeWindow:  10 * time.Minute,
	}, clockwork.NewRealClock(), logger, metrics)

	valid := runDay.Add(time.Hour)
	sum, err := p.RunRange(ctx, valid, valid, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Summary{Dates: 1, Collocated: 1, Records: 2}, sum)
	require.NoError(t, p.CheckReadiness(ctx))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	first := readSink(ctx, t, consumer)
	second := readSink(ctx, t, consumer)

	assert.Equal(t, kafka.MessageKey("mwam4", "s3a", runDay.Add(3595*time.Second)), first.Key)
	assert.Equal(t, "mwam4", first.Headers["model"])
	assert.Equal(t, valid.Format(time.RFC3339), first.Headers["valid_time"])
	assert.InDelta(t, 3.1, first.Record["model_value"], 1e-6)
	assert.InDelta(t, 3.4, first.Record["obs_value"], 1e-6)
	assert.InDelta(t, 0, first.Record["distance_km"], 1e-3)

	assert.InDelta(t, 4.3, second.Record["model_value"], 1e-6)
	assert.Equal(t, "s3a", second.Record["platform"])

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "the far observation must not be published")
}

// TestWriterCircuitOpensWithoutBroker verifies publishing fails fast once the
// sink has been unreachable.
func TestWriterCircuitOpensWithoutBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := &config.Config{KafkaBrokers: []string{"127.0.0.1:1"}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, discardLogger(), observability.NewMetricsForTesting())
	t.Cleanup(func() { _ = writer.Close() })

	c := &domain.Collocation{
		Model:     "mwam4",
		Platform:  "s3a",
		ValidTime: runDay,
		Records:   []domain.MatchRecord{{ObsTime: runDay, ModelTime: runDay, ObsValue: 1, ModelValue: 1}},
	}
	var lastErr error
	for range 10 {
		writeCtx, writeCancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = writer.Publish(writeCtx, c)
		writeCancel()
		if errors.Is(lastErr, kafka.ErrSinkUnavailable) {
			break
		}
	}
	assert.ErrorIs(t, lastErr, kafka.ErrSinkUnavailable)
}

