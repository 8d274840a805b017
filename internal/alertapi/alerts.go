package alertapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/ingest"
	"github.com/t77yq/nats-alerts/internal/model"
	"github.com/t77yq/nats-alerts/internal/storage"
)

func (a *API) handleRaiseNotice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	cmd := a.ingestor.Normalize(ingest.ChannelNotice, body)
	if rejected, ok := cmd.(ingest.Rejected); ok {
		writeError(w, http.StatusBadRequest, rejected.Reason)
		return
	}

	if err := a.handler.Handle(r.Context(), cmd); err != nil {
		a.logger.Error("Failed to raise notice", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// the notice may have been squashed into an existing alert, so only the
	// notice id is known here
	notice := cmd.(ingest.RaiseNotice).Notice
	writeJSON(w, http.StatusAccepted, map[string]string{"noticeId": notice.ID})
}

func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	props := map[string]interface{}{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &props); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	if props == nil {
		props = map[string]interface{}{}
	}
	// the path wins over any id in the body
	props[ingest.KeyID] = chi.URLParam(r, "id")

	cmd := a.ingestor.NormalizeMap(ingest.ChannelDismiss, props)
	if rejected, ok := cmd.(ingest.Rejected); ok {
		writeError(w, http.StatusBadRequest, rejected.Reason)
		return
	}

	if err := a.handler.Handle(r.Context(), cmd); err != nil {
		a.logger.Error("Failed to dismiss alert",
			zap.String("alert_id", chi.URLParam(r, "id")),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	p := storage.All()
	switch status := r.URL.Query().Get("status"); status {
	case "":
	case string(model.AlertStatusActive), string(model.AlertStatusDismissed):
		p = storage.ByStatus(model.AlertStatus(status))
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}

	alerts, err := a.store.Query(r.Context(), p)
	if err != nil {
		a.logger.Error("Failed to list alerts", zap.Stringer("predicate", p), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]model.Alert, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alert.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alerts, err := a.store.Query(r.Context(), storage.ByID(id))
	if err != nil {
		a.logger.Error("Failed to get alert", zap.String("alert_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(alerts) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, alerts[0].Snapshot())
}
