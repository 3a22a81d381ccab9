// Package service defines the interfaces for domain services.
package service

import (
	"time"
)

// Metrics defines the interface for collecting business metrics.
// Metrics 定义了收集业务指标的接口。
type Metrics interface {
	// RecordKeyOperation records a provision or rotate call.
	// RecordKeyOperation 记录一次供应或轮换调用。
	RecordKeyOperation(operation, ownerKind string, success bool, duration time.Duration)

	// RecordTokenIssue records metrics related to access token signing.
	// RecordTokenIssue 记录与访问令牌签名相关的指标。
	RecordTokenIssue(ownerKind string, success bool, duration time.Duration, errorKind string)

	// RecordTokenVerify records metrics related to the token verification process.
	// RecordTokenVerify 记录与令牌验证过程相关的指标。
	RecordTokenVerify(ownerKind string, success bool, errorKind string)

	// RecordSessionOperation records open, refresh and revoke calls.
	// RecordSessionOperation 记录打开、刷新和撤销调用。
	RecordSessionOperation(operation, ownerKind string, success bool, errorKind string)

	// RecordRefreshReuse records a detected refresh token replay.
	// RecordRefreshReuse 记录检测到的刷新令牌重放。
	RecordRefreshReuse(ownerKind string, containedSessions int64)

	// RecordCacheAccess records a cache hit or miss.
	// RecordCacheAccess 记录缓存命中或未命中。
	RecordCacheAccess(cacheType string, hit bool)

	// RecordDBQuery records the duration of a database query.
	// RecordDBQuery 记录数据库查询的持续时间。
	RecordDBQuery(operation string, duration time.Duration)

	// RecordVaultAPI records the latency and error status of a Vault API call.
	// RecordVaultAPI 记录 Vault API 调用的延迟和错误状态。
	RecordVaultAPI(operation string, duration time.Duration, err error)

	// RecordSweep records the outcome of one hygiene pass.
	// RecordSweep 记录一次清理的结果。
	RecordSweep(sessionsDeleted, keysRevoked int64)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) RecordKeyOperation(string, string, bool, time.Duration) {}
func (NoopMetrics) RecordTokenIssue(string, bool, time.Duration, string)   {}
func (NoopMetrics) RecordTokenVerify(string, bool, string)                 {}
func (NoopMetrics) RecordSessionOperation(string, string, bool, string)    {}
func (NoopMetrics) RecordRefreshReuse(string, int64)                       {}
func (NoopMetrics) RecordCacheAccess(string, bool)                         {}
func (NoopMetrics) RecordDBQuery(string, time.Duration)                    {}
func (NoopMetrics) RecordVaultAPI(string, time.Duration, error)            {}
func (NoopMetrics) RecordSweep(int64, int64)                               {}
