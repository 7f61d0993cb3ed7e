package usecase

import (
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

type noopObserver struct{}

func (noopObserver) ObserveFuser(domain.RetrievalSource, time.Duration, int, bool) {}
func (noopObserver) ObserveAnswer(*domain.Answer, time.Duration)                   {}
func (noopObserver) ObserveFilteredCitations(int)                                  {}
func (noopObserver) ObserveUnsupportedSentences(int)                               {}
