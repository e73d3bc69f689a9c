package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/errors"
)

var (
	hashPattern    = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	addressPattern = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
)

// Validator 输入验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下混合大小写地址必须符合EIP-55校验
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(input string, strict bool) error
	Name() string
	Description() string
}

// AuditRequest 已验证的升级检测请求
type AuditRequest struct {
	TxHash common.Hash
	Proxy  common.Address
}

// NewValidator 创建输入验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	if logger == nil {
		logger = logrus.New()
	}
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.AddRule(NewHashValidationRule())
	v.AddRule(NewAddressValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ParseTxHash 验证并解析交易哈希
func (v *Validator) ParseTxHash(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if err := v.rules["hash"].Validate(input, v.strictMode); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(input), nil
}

// ParseAddress 验证并解析地址
func (v *Validator) ParseAddress(field, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if err := v.rules["address"].Validate(input, v.strictMode); err != nil {
		if auditErr, ok := errors.As(err); ok {
			auditErr.WithContext("field", field)
		}
		return common.Address{}, err
	}
	return common.HexToAddress(input), nil
}

// ParseAuditRequest 验证升级检测的两个参数
func (v *Validator) ParseAuditRequest(txHash, proxy string) (*AuditRequest, error) {
	hash, err := v.ParseTxHash(txHash)
	if err != nil {
		return nil, err
	}
	addr, err := v.ParseAddress("proxy", proxy)
	if err != nil {
		return nil, err
	}
	return &AuditRequest{TxHash: hash, Proxy: addr}, nil
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// isValidAddress 验证地址格式
func isValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// hasValidChecksum 全小写或全大写地址不携带校验信息，视为有效
func hasValidChecksum(addr string) bool {
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(addr).Hex() == addr
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string {
	return "hash"
}

func (r *HashValidationRule) Description() string {
	return "交易哈希验证规则"
}

func (r *HashValidationRule) Validate(input string, strict bool) error {
	if !isValidHash(input) {
		return errors.NewValidationError(fmt.Sprintf("交易哈希格式无效: %q (需要0x加64位十六进制)", input))
	}
	return nil
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(input string, strict bool) error {
	if !isValidAddress(input) {
		return errors.NewValidationError(fmt.Sprintf("地址格式无效: %q (需要0x加40位十六进制)", input))
	}
	if strict && !hasValidChecksum(input) {
		return errors.NewValidationError(fmt.Sprintf("地址校验和不匹配: %s", input))
	}
	return nil
}
