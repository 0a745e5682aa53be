package api

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"latencyd/src/utils"
	"latencyd/src/version"
)

// ModelVersion is reported by every prediction response.
const ModelVersion = "1.0.0"

// RootHandler serves GET /.
type RootHandler struct{}

func (RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "MLOps Inference API",
		"docs":    "/docs",
		"version": version.Version,
	})
}

// HealthHandler is a simple readiness probe.
type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// PredictRequest is the body of every prediction endpoint.
type PredictRequest struct {
	Feature1 *float64 `json:"feature_1"`
	Feature2 *float64 `json:"feature_2"`
}

// PredictResponse is returned by every prediction endpoint.
type PredictResponse struct {
	Prediction   float64 `json:"prediction"`
	ModelVersion string  `json:"model_version"`
}

func predict(req PredictRequest) PredictResponse {
	p := (*req.Feature1*0.3 + *req.Feature2*0.7) / 10
	return PredictResponse{
		Prediction:   math.Round(p*100) / 100,
		ModelVersion: ModelVersion,
	}
}

// decodePredict writes a 4xx and returns false when the body is unusable.
func decodePredict(w http.ResponseWriter, r *http.Request) (PredictRequest, bool) {
	var req PredictRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.CodeBadRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	if req.Feature1 == nil || req.Feature2 == nil {
		utils.WriteError(w, http.StatusUnprocessableEntity, utils.CodeValidationFailed, "feature_1 and feature_2 are required")
		return req, false
	}
	return req, true
}

// inferenceLatency mimics model latency: 80ms plus up to 40ms of jitter.
func inferenceLatency() time.Duration {
	return 80*time.Millisecond + time.Duration(rand.Int63n(int64(40*time.Millisecond)))
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PredictHandler serves POST /predict.
type PredictHandler struct{}

func (PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePredict(w, r)
	if !ok {
		return
	}
	if err := sleepCtx(r.Context(), inferenceLatency()); err != nil {
		return
	}
	utils.WriteJSON(w, http.StatusOK, predict(req))
}
