package repochat

import (
	"context"

	"go.uber.org/zap"

	"github.com/flarexio/repochat/vector"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "repochat"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ask(ctx context.Context, question string) (*Answer, error) {
	log := mw.log.With(
		zap.String("action", "ask"),
		zap.String("question", question),
	)

	answer, err := mw.next.Ask(ctx, question)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("question answered",
		zap.Int("sources", len(answer.Sources)),
	)

	return answer, nil
}

func (mw *loggingMiddleware) Search(ctx context.Context, query string, k ...int) ([]vector.Result, error) {
	log := mw.log.With(
		zap.String("action", "search"),
		zap.String("query", query),
	)

	if len(k) > 0 {
		log = log.With(zap.Int("k", k[0]))
	}

	results, err := mw.next.Search(ctx, query, k...)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("chunks retrieved",
		zap.Int("count", len(results)),
	)

	return results, nil
}

func (mw *loggingMiddleware) Health(ctx context.Context) (string, error) {
	msg, err := mw.next.Health(ctx)
	if err != nil {
		mw.log.Error(err.Error(), zap.String("action", "health"))
		return "", err
	}

	return msg, nil
}
