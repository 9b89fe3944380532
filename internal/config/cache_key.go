package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID string) string {
	return fmt.Sprintf("login:%s", studentID)
}

// TestBudgetKey returns the cache key for a test's total time budget in ms.
// The budget is computed once at start from the suite's questions and never
// changes afterwards; this key is a read-through cache over that sum.
func (r *CacheKeyStruct) TestBudgetKey(testID string) string {
	return fmt.Sprintf("test:%s:budget_ms", testID)
}

var CacheKey = NewCacheKeyStruct()
