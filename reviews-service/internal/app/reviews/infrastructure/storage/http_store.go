package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"

	"github.com/sony/gobreaker/v2"
)

const httpBackend = "http"

// clientError - ответ 4xx; хранилище живо, поэтому breaker его не считает
type clientError struct {
	status int
	body   string
}

func (e *clientError) Error() string {
	return fmt.Sprintf("media store rejected request: %d %s", e.status, e.body)
}

// HTTPStore - клиент внешнего объектного хранилища:
// PUT {endpoint}/{key} с телом файла, DELETE {endpoint}/{key}.
// Все вызовы проходят через circuit breaker, чтобы недоступное хранилище
// не держало запросы на создание отзывов до таймаута.
type HTTPStore struct {
	client        *http.Client
	endpoint      string
	publicBaseURL string
	breaker       *gobreaker.CircuitBreaker[string]
}

type BreakerConfig struct {
	Name         string
	Timeout      time.Duration // сколько breaker остаётся открытым
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "media-store",
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

func NewHTTPStore(endpoint, publicBaseURL string, timeout time.Duration, cbCfg BreakerConfig) *HTTPStore {
	settings := gobreaker.Settings{
		Name:        cbCfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cbCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cbCfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cbCfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.MediaStoreBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	metrics.MediaStoreBreakerState.WithLabelValues(cbCfg.Name).Set(0)

	return &HTTPStore{
		client:        &http.Client{Timeout: timeout},
		endpoint:      strings.TrimRight(endpoint, "/"),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		breaker:       gobreaker.NewCircuitBreaker[string](settings),
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

type storeResponse struct {
	URL string `json:"url"`
}

// Store загружает файл. Если хранилище вернуло url в JSON - используется он,
// иначе URL собирается из публичного адреса и ключа.
func (s *HTTPStore) Store(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	timer := metrics.NewMediaStoreTimer(httpBackend, "store")

	location, err := s.breaker.Execute(func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.endpoint+"/"+escapeKey(key), data)
		if err != nil {
			return "", fmt.Errorf("failed to build upload request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := s.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to upload media: %w", err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return "", err
		}

		var body storeResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.URL != "" {
			return body.URL, nil
		}
		return s.publicBaseURL + "/" + escapeKey(key), nil
	})
	timer.Done(err)

	return location, err
}

// Delete удаляет объект; отсутствующий объект ошибкой не считается
func (s *HTTPStore) Delete(ctx context.Context, key string) error {
	timer := metrics.NewMediaStoreTimer(httpBackend, "delete")

	_, err := s.breaker.Execute(func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint+"/"+escapeKey(key), http.NoBody)
		if err != nil {
			return "", fmt.Errorf("failed to build delete request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to delete media: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", checkStatus(resp)
	})
	timer.Done(err)

	return err
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &clientError{status: resp.StatusCode, body: string(body)}
	}
	return fmt.Errorf("media store error %d: %s", resp.StatusCode, string(body))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
