package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PinFailuresKey counts failed PIN redemptions for one caller against one exam.
func (r *CacheKeyStruct) PinFailuresKey(examID, caller string) string {
	return fmt.Sprintf("pin:%s:failures:%s", examID, caller)
}

// RateLimitKey is the fixed-window request counter for a route group and client.
func (r *CacheKeyStruct) RateLimitKey(scope, client string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, client, window)
}

// ExamConfigKey caches the exam configuration read from the exam provider.
func (r *CacheKeyStruct) ExamConfigKey(examID string) string {
	return fmt.Sprintf("exam:%s:config", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
