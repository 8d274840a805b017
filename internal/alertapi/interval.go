package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/aggregator"
)

type intervalBody struct {
	Minutes int `json:"minutes"`
}

func (a *API) handleGetInterval(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, intervalBody{Minutes: int(a.interval.Interval() / time.Minute)})
}

func (a *API) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var body intervalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := a.interval.SetIntervalMinutes(body.Minutes); err != nil {
		switch {
		case errors.Is(err, aggregator.ErrInvalidInterval):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, aggregator.ErrStopped):
			writeError(w, http.StatusConflict, err.Error())
		default:
			a.logger.Error("Failed to set interval", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, body)
}
