package httpapi

import (
	"net/http"

	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// vaultKey reads q=base64("namespace:publicKey") for the calling user.
func vaultKey(r *http.Request) (models.VaultKey, bool) {
	ns, pk, err := pb.DecodeNamespaceKey(r.URL.Query().Get("q"), true)
	if err != nil {
		return models.VaultKey{}, false
	}
	return models.VaultKey{Namespace: ns, UserID: userIDFromContext(r.Context()), PublicKey: pk}, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	// q=base64("namespace:publicKey") names the calling device; the key
	// part may be omitted by clients that only read the roster
	ns, self, err := pb.DecodeNamespaceKey(r.URL.Query().Get("q"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed query")
		return
	}

	var req pb.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	items := make([]services.RegisterItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.RegisterItem{PublicKey: it.PublicKey, Note: it.Note, CreatedAt: it.CreatedAt, UpdatedAt: it.UpdatedAt})
	}

	roster, err := s.vaults.Register(r.Context(), ns, userIDFromContext(r.Context()), self, items)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]pb.SyncPublicKeyItem, 0, len(roster))
	for _, info := range roster {
		out = append(out, pb.SyncPublicKeyItem{
			SyncStats: toWireStats(&info.SyncStats),
			PublicKey: info.PublicKey,
			Note:      info.Note,
			CreatedAt: info.CreatedAt,
			UpdatedAt: info.UpdatedAt,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	key, ok := vaultKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed query")
		return
	}
	stats, err := s.vaults.Stats(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toWireStats(stats))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key, ok := vaultKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed query")
		return
	}
	var req pb.UpdateNoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.vaults.UpdateNote(r.Context(), key, req.Note); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	key, ok := vaultKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed query")
		return
	}
	if _, err := s.vaults.Destroy(r.Context(), key); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDestroyStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := vaultKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed query")
		return
	}
	wf, err := s.vaults.DestroyStatus(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, pb.DestroyStatus{InstanceID: wf.InstanceID, Status: wf.Status, DeleteAfter: wf.DeleteAfter})
}

func toWireStats(s *models.SyncStats) pb.SyncStats {
	return pb.SyncStats{
		SyncCount:       s.SyncCount,
		LastSyncAt:      s.LastSyncAt,
		UsedStorageSize: s.UsedStorageSize,
		MaxStorageSize:  s.MaxStorageSize,
	}
}
