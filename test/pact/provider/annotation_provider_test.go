//go:build pact
// +build pact

package provider_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	pacttest "github.com/Apurer/go-annotation-service/test/pact"

	annotationhttp "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/http"
	annotationmemory "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/memory"
	annotationobs "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/observability"
	annotationapp "github.com/Apurer/go-annotation-service/internal/domains/annotations/application"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/shared/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/pact-foundation/pact-go/v2/models"
	pactprovider "github.com/pact-foundation/pact-go/v2/provider"
	"github.com/stretchr/testify/require"
)

func TestAnnotationProviderPact(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := newContractProviderApp(t)
	pactFile := filepath.ToSlash(pacttest.PactFile(t))
	if _, err := os.Stat(pactFile); errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pact file not found at %s - run the pact consumer tests first", pactFile)
	} else {
		require.NoError(t, err)
	}

	verifier := pactprovider.NewVerifier()
	stateHandlers := models.StateHandlers{
		pacttest.StateSubjectResolved: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			if setup {
				app.seedSummary(t, pacttest.ResolvedHandle)
			}
			return nil, nil
		},
		pacttest.StateSubjectUnknown: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			return nil, nil
		},
		pacttest.StatePaused: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			if setup {
				app.gate.NotePauseUntil(time.Now().Add(45 * time.Second))
			}
			return nil, nil
		},
		pacttest.StateSettingsBase: func(setup bool, _ models.ProviderState) (models.ProviderStateResponse, error) {
			app.reset(t)
			return nil, nil
		},
	}

	err := verifier.VerifyProvider(t, pactprovider.VerifyRequest{
		ProviderBaseURL: app.server.URL,
		Provider:        pacttest.ProviderName,
		PactFiles:       []string{pactFile},
		StateHandlers:   stateHandlers,
		BeforeEach: func() error {
			app.reset(t)
			return nil
		},
	})
	require.NoError(t, err)
}

type contractProviderApp struct {
	cache  *annotationmemory.CacheStore
	gate   *ratelimit.Gate
	server *httptest.Server
}

func newContractProviderApp(t testing.TB) *contractProviderApp {
	t.Helper()

	cache := annotationmemory.NewCacheStore()
	gate := ratelimit.NewGate()
	service := annotationobs.New(annotationapp.NewService(cache, unknownSource{}, gate))

	router := gin.New()
	router.Use(gin.Recovery())
	annotationhttp.NewAnnotationAPI(service).Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &contractProviderApp{
		cache:  cache,
		gate:   gate,
		server: server,
	}
}

// unknownSource answers every fetch with the remote-knows-nothing
// outcome, which is what the unknown-subject interactions expect.
type unknownSource struct{}

func (unknownSource) Fetch(context.Context, string, domain.FetchParams) (*domain.RemarkSummary, error) {
	return nil, nil
}

func (a *contractProviderApp) reset(t testing.TB) {
	t.Helper()
	require.NoError(t, a.cache.ClearAll(context.Background()))
	a.gate.Clear()
}

func (a *contractProviderApp) seedSummary(t testing.TB, handle string) {
	t.Helper()
	summary := &domain.RemarkSummary{
		Handle:     handle,
		WindowDays: pacttest.ExampleWindowDays,
		SampleSize: pacttest.ExampleSampleSize,
		Categories: []domain.CategoryCount{{Name: pacttest.ExampleCategory, Count: 9}},
	}
	require.NoError(t, a.cache.Put(context.Background(), handle, summary))
}
