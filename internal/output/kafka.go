package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/errors"
	"proxyaudit/pkg/models"
)

var defaultTopics = map[string]string{
	DataTypeUpgradeReports: "proxyaudit_upgrade_reports",
	DataTypePoolReports:    "proxyaudit_pool_reports",
}

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Debugf("初始化Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
			errors.CodeOutputFailed, "创建Kafka生产者失败")
	}

	return newKafkaOutputWithProducer(producer, topics, logger), nil
}

func newKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	merged := make(map[string]string, len(defaultTopics))
	for k, v := range defaultTopics {
		merged[k] = v
	}
	for k, v := range topics {
		if v != "" {
			merged[k] = v
		}
	}
	return &KafkaOutput{
		logger:   logger,
		topics:   merged,
		producer: producer,
	}
}

// send 发送数据到Kafka，key 用于保证同一合约的消息落在同一分区
func (k *KafkaOutput) send(dataType, key string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
			errors.CodeOutputFailed, "序列化数据失败")
	}

	topic := k.topics[dataType]
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
			errors.CodeOutputFailed, fmt.Sprintf("发送消息到Kafka topic '%s' 失败", topic))
	}

	k.logger.Debugf("已发送到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteUpgradeReport 写入升级检测报告
func (k *KafkaOutput) WriteUpgradeReport(report *models.UpgradeReport) error {
	if report == nil {
		return nil
	}
	return k.send(DataTypeUpgradeReports, report.Proxy, report.ToKafkaMessage())
}

// WritePoolReport 写入交易对报告
func (k *KafkaOutput) WritePoolReport(report *models.PoolReport) error {
	if report == nil {
		return nil
	}
	return k.send(DataTypePoolReports, report.Pair, report)
}

// Close 关闭生产者
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
