package usecase

import (
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

type nopMetrics struct{}

func (nopMetrics) ObserveRetrieval(bool, time.Duration) {}
func (nopMetrics) ObserveRun(domain.RunStatus, string, domain.Timing) {}
func (nopMetrics) ObserveCutover(string, domain.CutoverMode) {}
func (nopMetrics) ObserveShadow(string, bool) {}
