package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/cars", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"data":[{"id":1,"name":"Model 3","isDefault":true},{"id":2,"name":"e-208"}]}`))
	}))
	defer srv.Close()

	c := New("test-key", srv.URL)
	cars, err := c.Cars(context.Background())
	require.NoError(t, err)
	require.Len(t, cars, 2)
	assert.Equal(t, int64(1), cars[0].ID)
	assert.Equal(t, "Model 3", cars[0].Name)
	assert.True(t, cars[0].IsDefault)
	assert.False(t, cars[1].IsDefault)
}

func TestDefaultCarNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cars/default", r.URL.Path)
		w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	c := New("test-key", srv.URL)
	car, err := c.DefaultCar(context.Background())
	require.NoError(t, err)
	assert.Nil(t, car)
}

func TestState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/homeassistant/state", r.URL.Path)
		w.Write([]byte(`{"data":{
			"lastSession":{"id":42,"energyConsumedKwh":12.5,"rateType":"LOW"},
			"currentMonth":{"energyConsumedKwh":100.5,"totalCostWithVat":450.25,"sessionCount":8},
			"cars":[{"id":1,"name":"Model 3","isDefault":true}]
		}}`))
	}))
	defer srv.Close()

	c := New("test-key", srv.URL)
	st, err := c.State(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.LastSession)
	assert.Equal(t, int64(42), st.LastSession.ID)
	assert.Equal(t, 12.5, st.LastSession.EnergyKWH)
	require.NotNil(t, st.CurrentMonth)
	assert.Equal(t, 8, st.CurrentMonth.SessionCount)
	assert.Nil(t, st.CurrentYear)
	require.Len(t, st.Cars, 1)
}

func TestLogSessionPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data":{"id":7,"energyConsumedKwh":10}}`))
	}))
	defer srv.Close()

	price := 3.50
	carID := int64(1)
	c := New("test-key", srv.URL)
	s, err := c.LogSession(context.Background(), SessionPayload{
		EnergyKWH:   10,
		CarID:       &carID,
		RateType:    "low",
		PricePerKWH: &price,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.ID)

	assert.Equal(t, 10.0, got["energyConsumedKwh"])
	assert.Equal(t, "LOW", got["rateType"])
	assert.Equal(t, 3.50, got["pricePerKwhWithoutVat"])
	assert.Equal(t, 1.0, got["carId"])
	// unset fields must not appear on the wire
	_, ok := got["vatPercentage"]
	assert.False(t, ok)
	_, ok = got["startTime"]
	assert.False(t, ok)
	_, ok = got["notes"]
	assert.False(t, ok)
}

func TestLogSessionSimpleStripsPrices(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/simple", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data":{"id":8}}`))
	}))
	defer srv.Close()

	price := 3.50
	c := New("test-key", srv.URL)
	_, err := c.LogSessionSimple(context.Background(), SessionPayload{
		EnergyKWH:    10,
		RateType:     "high",
		EnergySource: "solar",
		PricePerKWH:  &price,
		Notes:        "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "HIGH", got["rateType"])
	assert.Equal(t, "SOLAR", got["energySource"])
	_, ok := got["pricePerKwhWithoutVat"]
	assert.False(t, ok)
	_, ok = got["notes"]
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthError(err))
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthError(err))
			},
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "120"},
			check: func(t *testing.T, err error) {
				var rle *RateLimitError
				require.ErrorAs(t, err, &rle)
				assert.Equal(t, 120*time.Second, rle.RetryAfter)
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "boom",
			check: func(t *testing.T, err error) {
				var se *ServerError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
				assert.Equal(t, "boom", se.Body)
			},
		},
		{
			name:   "validation error",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"energyConsumedKwh is required"}}`,
			check: func(t *testing.T, err error) {
				var ae *APIError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, "energyConsumedKwh is required", ae.Message)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New("test-key", srv.URL)
			_, err := c.Cars(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestValidateKey(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[]}`))
		}))
		defer srv.Close()

		ok, err := New("k", srv.URL).ValidateKey(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		ok, err := New("k", srv.URL).ValidateKey(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		ok, err := New("k", srv.URL).ValidateKey(context.Background())
		require.Error(t, err)
		assert.False(t, ok)
	})
}
