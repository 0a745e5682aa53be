package api

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"latencyd/src/concurrency"
	"latencyd/src/logging"
	"latencyd/src/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Simulated latencies of the exercise collaborators.
const (
	userLookupDelay   = 50 * time.Millisecond
	weatherDelay      = 200 * time.Millisecond
	configReadDelay   = 30 * time.Millisecond
	cacheLookupDelay  = 100 * time.Millisecond
	imageFetchDelay   = 100 * time.Millisecond
	imageInferDelay   = 100 * time.Millisecond
	analyticsDelay    = 200 * time.Millisecond
	serviceFetchDelay = 100 * time.Millisecond
	dashboardServices = 5
	hashIterations    = 10_000_000
)

// Exercises groups the demonstration endpoints mounted under /exercises.
// Each one is a unit of work with a different blocking profile.
type Exercises struct {
	Tasks      *concurrency.TaskQueue
	ConfigPath string

	weather *gobreaker.CircuitBreaker
	// fetchWeather is the upstream call guarded by the breaker.
	fetchWeather func(ctx context.Context, city string) (Weather, error)
	iterations   int
}

// NewExercises wires the exercise handlers to their collaborators.
func NewExercises(tasks *concurrency.TaskQueue, configPath string) *Exercises {
	e := &Exercises{
		Tasks:        tasks,
		ConfigPath:   configPath,
		fetchWeather: simulatedWeather,
		iterations:   hashIterations,
	}
	e.weather = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return e
}

// Routes returns the /exercises sub-router.
func (e *Exercises) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/predict/sync", e.predictSync)
	r.Post("/predict/async", e.predictAsync)
	r.Post("/predict/broken", e.predictBroken)
	r.Get("/users/{userID}", e.getUser)
	r.Get("/weather/{city}", e.getWeather)
	r.Post("/hash", e.computeHash)
	r.Get("/config", e.readConfig)
	r.Get("/cache/{cacheKey}", e.getCache)
	r.Post("/predict/image", e.predictImage)
	r.Post("/track", e.trackEvent)
	r.Get("/dashboard", e.getDashboard)
	return r
}

// predictSync blocks its goroutine for the whole inference.
func (e *Exercises) predictSync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	time.Sleep(inferenceLatency())
	utils.WriteJSON(w, http.StatusOK, predict(req))
}

// predictAsync waits on a timer and gives up when the client goes away.
func (e *Exercises) predictAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	if err := sleepCtx(r.Context(), inferenceLatency()); err != nil {
		return
	}
	utils.WriteJSON(w, http.StatusOK, predict(req))
}

// predictBroken ignores cancellation just like predictSync. Each request runs
// on its own goroutine, so the blocking sleep stalls nothing else.
func (e *Exercises) predictBroken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	time.Sleep(inferenceLatency())
	utils.WriteJSON(w, http.StatusOK, predict(req))
}

// User is the payload of the simulated database lookup.
type User struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func (e *Exercises) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, utils.CodeValidationFailed, "user_id must be an integer")
		return
	}
	time.Sleep(userLookupDelay)
	utils.WriteJSON(w, http.StatusOK, User{
		UserID: id,
		Name:   fmt.Sprintf("User %d", id),
		Email:  fmt.Sprintf("user%d@example.com", id),
	})
}

// Weather is the payload of the simulated upstream API.
type Weather struct {
	City        string `json:"city"`
	Temperature int    `json:"temperature"`
	Conditions  string `json:"conditions"`
}

func simulatedWeather(ctx context.Context, city string) (Weather, error) {
	if err := sleepCtx(ctx, weatherDelay); err != nil {
		return Weather{}, err
	}
	return Weather{City: city, Temperature: 22, Conditions: "sunny"}, nil
}

func (e *Exercises) getWeather(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	res, err := e.weather.Execute(func() (interface{}, error) {
		return e.fetchWeather(r.Context(), city)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		utils.WriteError(w, http.StatusServiceUnavailable, utils.CodeUpstreamUnavailable, "weather service temporarily unavailable")
		return
	case err != nil:
		logging.Log.WithError(err).WithField("city", city).Warn("weather lookup failed")
		utils.WriteError(w, http.StatusBadGateway, utils.CodeUpstreamUnavailable, "weather lookup failed")
		return
	}
	utils.WriteJSON(w, http.StatusOK, res.(Weather))
}

// HashRequest is the body of POST /exercises/hash.
type HashRequest struct {
	Data      string `json:"data"`
	Algorithm string `json:"algorithm"`
}

// computeHash burns CPU before hashing, standing in for model inference.
func (e *Exercises) computeHash(w http.ResponseWriter, r *http.Request) {
	var req HashRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.CodeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	var total uint64
	for i := 0; i < e.iterations; i++ {
		total += uint64(i) * uint64(i)
	}
	logging.Log.WithField("checksum", total).Debug("hash warmup finished")

	sum := sha256.Sum256([]byte(req.Data))
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"hash":      hex.EncodeToString(sum[:]),
		"algorithm": "sha256",
	})
}

func (e *Exercises) readConfig(w http.ResponseWriter, r *http.Request) {
	time.Sleep(configReadDelay)
	cfg, err := loadExerciseConfig(e.ConfigPath)
	if err != nil {
		logging.Log.WithError(err).WithField("path", e.ConfigPath).Error("reading exercise config")
		utils.WriteError(w, http.StatusInternalServerError, utils.CodeInternalError, "config unavailable")
		return
	}
	utils.WriteJSON(w, http.StatusOK, cfg)
}

// loadExerciseConfig reads a CSV with a Name,Value header into a map.
func loadExerciseConfig(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	header, err := rd.Read()
	if err != nil {
		return nil, fmt.Errorf("read config header: %w", err)
	}
	nameCol, valueCol := -1, -1
	for i, h := range header {
		switch h {
		case "Name":
			nameCol = i
		case "Value":
			valueCol = i
		}
	}
	if nameCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("config header %v lacks Name and Value columns", header)
	}

	out := make(map[string]string)
	for {
		row, err := rd.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read config row: %w", err)
		}
		out[row[nameCol]] = row[valueCol]
	}
}

func (e *Exercises) getCache(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "cacheKey")
	if err := sleepCtx(r.Context(), cacheLookupDelay); err != nil {
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"value": "cached_data",
		"hit":   true,
	})
}

func (e *Exercises) predictImage(w http.ResponseWriter, r *http.Request) {
	time.Sleep(imageFetchDelay) // download
	time.Sleep(imageInferDelay) // inference
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"prediction": "cat",
		"confidence": 0.95,
	})
}

// TrackRequest is the body of POST /exercises/track.
type TrackRequest struct {
	Event  string `json:"event"`
	UserID int    `json:"user_id"`
}

// trackEvent hands the event to the task queue and answers without waiting.
func (e *Exercises) trackEvent(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.CodeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	eventID := uuid.NewString()
	err := e.Tasks.Submit("analytics", func(ctx context.Context) {
		sendToAnalytics(ctx, eventID, req)
	})
	if err != nil {
		utils.WriteError(w, http.StatusServiceUnavailable, utils.CodeUpstreamUnavailable, "analytics backlog full")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "accepted",
		"event_id": eventID,
	})
}

func sendToAnalytics(ctx context.Context, eventID string, evt TrackRequest) {
	if err := sleepCtx(ctx, analyticsDelay); err != nil {
		return
	}
	logging.Log.WithFields(logrus.Fields{
		"event_id": eventID,
		"event":    evt.Event,
		"user_id":  evt.UserID,
	}).Info("[analytics] logged")
}

func fetchService(ctx context.Context, id int) (map[string]string, error) {
	if err := sleepCtx(ctx, serviceFetchDelay); err != nil {
		return nil, err
	}
	return map[string]string{
		fmt.Sprintf("service_%d", id): fmt.Sprintf("data_%d", id),
	}, nil
}

// getDashboard fans out to every service at once, so it takes about as long
// as the slowest fetch rather than their sum.
func (e *Exercises) getDashboard(w http.ResponseWriter, r *http.Request) {
	g, ctx := errgroup.WithContext(r.Context())
	results := make([]map[string]string, dashboardServices)
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := fetchService(ctx, i+1)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return
	}

	combined := make(map[string]string, dashboardServices)
	for _, res := range results {
		for k, v := range res {
			combined[k] = v
		}
	}
	utils.WriteJSON(w, http.StatusOK, combined)
}
