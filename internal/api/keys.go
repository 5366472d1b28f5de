package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kvstore/internal/kvdb"
)

// owner returns a fresh pool owner for one request. Requests never share
// a connection, even when clients reuse X-Request-ID.
func (s *Server) owner(r *http.Request) kvdb.Owner {
	return kvdb.Owner("http-" + requestID(r.Context()) + "-" + string(kvdb.NewOwner()))
}

// keyParam extracts and validates the key path parameter.
func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeBadRequest(w, "key is required")
		return "", false
	}
	return key, true
}

// handleGetKey returns the raw value bytes.
func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	var value []byte
	err := s.db.Do(r.Context(), s.owner(r), func(c *kvdb.Connection) error {
		var err error
		value, err = c.Get(r.Context(), key)
		return err
	})
	if err != nil {
		s.writeDBError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	w.Write(value) //nolint:errcheck // Best-effort write to response
}

// handlePutKey stores the request body under key in a write transaction.
func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	value, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "value too large")
			return
		}
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}

	err = s.db.Update(r.Context(), s.owner(r), func(c *kvdb.Connection) error {
		return c.Put(r.Context(), key, value)
	})
	if err != nil {
		s.writeDBError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteKey removes key. Deleting an absent key succeeds.
func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	err := s.db.Update(r.Context(), s.owner(r), func(c *kvdb.Connection) error {
		return c.Delete(r.Context(), key)
	})
	if err != nil {
		s.writeDBError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountResponse is the body of /api/v1/count.
type CountResponse struct {
	Prefix string `json:"prefix"`
	Count  int64  `json:"count"`
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	var n int64
	err := s.db.Do(r.Context(), s.owner(r), func(c *kvdb.Connection) error {
		var err error
		n, err = c.CountPrefix(r.Context(), prefix)
		return err
	})
	if err != nil {
		s.writeDBError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Prefix: prefix, Count: n})
}

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

// QueryResponse holds rows rendered as text; NULL is null.
type QueryResponse struct {
	Rows [][]string `json:"rows"`
}

// handleQuery runs a statement inside a read transaction.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SQL == "" {
		writeBadRequest(w, "sql is required")
		return
	}

	var rows [][]string
	err := s.db.View(r.Context(), s.owner(r), func(c *kvdb.Connection) error {
		var err error
		rows, err = c.Query(r.Context(), req.SQL, req.Args...)
		return err
	})
	if err != nil {
		s.writeDBError(w, r, err)
		return
	}
	if rows == nil {
		rows = [][]string{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{Rows: rows})
}

// BatchRequest is the body of POST /api/v1/batch. Puts are applied
// before deletes, all in one write transaction.
type BatchRequest struct {
	Put    map[string]string `json:"put,omitempty"`
	Delete []string          `json:"delete,omitempty"`
}

// BatchResponse reports how many operations were applied.
type BatchResponse struct {
	Put     int `json:"put"`
	Deleted int `json:"deleted"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Put) == 0 && len(req.Delete) == 0 {
		writeBadRequest(w, "batch is empty")
		return
	}

	ctx := r.Context()
	err := s.db.Update(ctx, s.owner(r), func(c *kvdb.Connection) error {
		for k, v := range req.Put {
			if err := c.PutString(ctx, k, v); err != nil {
				return err
			}
		}
		for _, k := range req.Delete {
			if err := c.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.writeDBError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Put: len(req.Put), Deleted: len(req.Delete)})
}
