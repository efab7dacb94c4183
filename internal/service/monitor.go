package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-ppg/internal/alert"
	"wisefido-ppg/internal/board"
	"wisefido-ppg/internal/buffer"
	"wisefido-ppg/internal/common/database"
	mqttcommon "wisefido-ppg/internal/common/mqtt"
	rediscommon "wisefido-ppg/internal/common/redis"
	"wisefido-ppg/internal/conditioner"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/consumer"
	"wisefido-ppg/internal/detector"
	"wisefido-ppg/internal/device"
	"wisefido-ppg/internal/pipeline"
	"wisefido-ppg/internal/report"
	"wisefido-ppg/internal/repository"
)

// AlarmSource provides the per-device low heart rate alarm.
type AlarmSource interface {
	GetHeartRateAlarm(tenantID, deviceID string) (*repository.LowHeartRateAlarm, error)
}

// MonitorService wires a sample source to the heart rate pipeline.
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	latch          *board.EdgeLatch
	buzzerPin      *board.LogPin
	simulator      *device.Simulator
	queue          *consumer.Queue
	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer
	pipeline       *pipeline.Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewMonitorService builds every component. Diagnostic lines go to out.
// Any error here is an initialization fault.
func NewMonitorService(cfg *config.Config, out io.Writer, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{
		config: cfg,
		logger: logger,
		latch:  board.NewEdgeLatch(),
		done:   make(chan struct{}),
	}

	// 1. sample source
	source, err := s.newSource()
	if err != nil {
		s.close()
		return nil, err
	}

	// 2. alert policy, optionally overridden per device
	policy := alert.NewPolicy(cfg.AlertConfig(), logger)
	if cfg.Monitor.AlarmFromDatabase && cfg.Monitor.DeviceID != "" {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		repo := repository.NewAlarmDeviceRepository(db, logger)
		if err := ApplyDeviceAlarm(policy, repo, cfg.Monitor.TenantID, cfg.Monitor.DeviceID, logger); err != nil {
			s.close()
			return nil, err
		}
	}

	// 3. pipeline
	s.buzzerPin = board.NewLogPin("buzzer", logger)
	s.pipeline = pipeline.New(
		source,
		buffer.New(cfg.Pipeline.RingCapacity),
		conditioner.New(cfg.ConditionerConfig()),
		detector.New(cfg.DetectorConfig()),
		policy,
		alert.NewBuzzer(s.buzzerPin, cfg.Alert.PulseHold, logger),
		report.NewLineSink(out, cfg.ReportConfig(), logger),
		pipeline.Options{
			RawEvery:  cfg.Report.RawEvery,
			RateEvery: cfg.Report.RateEvery,
			IdlePoll:  cfg.Pipeline.IdlePoll,
		},
		logger,
	)

	return s, nil
}

func (s *MonitorService) newSource() (pipeline.Source, error) {
	cfg := s.config
	switch cfg.Source.Kind {
	case config.SourceSimulator:
		settings := cfg.SensorSettings()
		wave := device.NewWaveform(cfg.SampleRateHz(), cfg.Source.SimHeartRate, cfg.Source.SimNoise)
		s.simulator = device.NewSimulator(s.latch, wave)
		if err := device.Init(s.simulator, settings, s.logger); err != nil {
			return nil, fmt.Errorf("failed to initialize sensor: %w", err)
		}
		temp, err := device.ReadTemperature(s.simulator, settings.Retries)
		if err != nil {
			return nil, fmt.Errorf("failed to read die temperature: %w", err)
		}
		s.logger.Info("Sensor ready",
			zap.Float64("die_temperature_c", temp),
			zap.Float64("sample_rate_hz", cfg.SampleRateHz()),
		)
		return device.NewSource(s.simulator, s.latch, settings, s.logger), nil

	case config.SourceRedis:
		s.redis = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), s.redis); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.queue = consumer.NewQueue(cfg.Source.QueueSize, s.latch)
		s.streamConsumer = consumer.NewStreamConsumer(consumer.StreamConfig{
			Stream:   cfg.Source.Stream,
			Group:    cfg.Source.Group,
			Consumer: cfg.Source.Consumer,
			DeviceID: cfg.Monitor.DeviceID,
		}, s.redis, s.queue, s.logger)
		return s.queue, nil

	case config.SourceMQTT:
		mqttCfg := cfg.MQTT
		mqttCfg.ClientID = fmt.Sprintf("%s-%s", mqttCfg.ClientID, uuid.NewString()[:8])
		client, err := mqttcommon.NewClient(&mqttCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		s.mqttClient = client
		s.queue = consumer.NewQueue(cfg.Source.QueueSize, s.latch)
		s.mqttConsumer = consumer.NewMQTTConsumer(client, cfg.Source.Topic, mqttCfg.QoS, cfg.Monitor.DeviceID, s.queue, s.logger)
		return s.queue, nil
	}
	return nil, fmt.Errorf("%w: source kind %q", config.ErrInvalid, cfg.Source.Kind)
}

// ApplyDeviceAlarm overrides the policy with the device's stored alarm, if any.
func ApplyDeviceAlarm(policy *alert.Policy, alarms AlarmSource, tenantID, deviceID string, logger *zap.Logger) error {
	alarm, err := alarms.GetHeartRateAlarm(tenantID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to load alarm config: %w", err)
	}
	if alarm == nil {
		logger.Info("No stored heart rate alarm, using configured threshold",
			zap.String("device_id", deviceID),
		)
		return nil
	}

	cfg := policy.Config()
	cfg.Enabled = alarm.Enabled
	if alarm.ThresholdBPM > 0 {
		cfg.ThresholdBPM = alarm.ThresholdBPM
	}
	policy.Reconfigure(cfg)
	return nil
}

// Start launches the source and the run loop.
func (s *MonitorService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.simulator != nil {
		s.run(func() {
			if err := s.simulator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Simulator stopped", zap.Error(err))
			}
		})
	}
	if s.streamConsumer != nil {
		s.run(func() {
			if err := s.streamConsumer.Start(ctx); err != nil {
				s.logger.Error("Stream consumer stopped", zap.Error(err))
			}
		})
	}
	if s.mqttConsumer != nil {
		s.run(func() {
			if err := s.mqttConsumer.Start(ctx); err != nil {
				s.logger.Error("MQTT consumer stopped", zap.Error(err))
			}
		})
	}

	s.run(func() {
		defer close(s.done)
		if err := s.pipeline.Run(ctx, s.latch); err != nil {
			s.logger.Error("Pipeline stopped", zap.Error(err))
		}
	})

	s.logger.Info("Monitor service started", zap.String("source", s.config.Source.Kind))
	return nil
}

func (s *MonitorService) run(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Done is closed when the run loop exits.
func (s *MonitorService) Done() <-chan struct{} { return s.done }

// Stop cancels every goroutine and releases the connections.
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping monitor service")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.mqttConsumer != nil {
		_ = s.mqttConsumer.Stop()
	}
	s.close()

	s.logger.Info("Monitor service stopped")
	return nil
}

func (s *MonitorService) close() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}
	if s.db != nil {
		database.Close(s.db)
	}
}

// Stats returns the pipeline counters. Call it after Stop.
func (s *MonitorService) Stats() pipeline.Stats { return s.pipeline.Stats() }

// Pipeline exposes the run loop.
func (s *MonitorService) Pipeline() *pipeline.Pipeline { return s.pipeline }
