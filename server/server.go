package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"quiver-sql-go/config"
	"quiver-sql-go/operators"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the HTTP plan ingress: clients post a JSON operator plan to
// /query and get the result rows back. The heavy lifting all happens in the
// operator tree; this layer only wires, drains and encodes.
type Server struct {
	log  *zap.Logger
	http *http.Server
}

type queryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(log *zap.Logger) *Server {
	cfg := config.GetConfig()
	s := &Server{log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
	}
	return s
}

// Start blocks serving until the listener fails or the server is shut down.
func (s *Server) Start() error {
	s.log.Info("query server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	maxBytes := int64(config.GetConfig().Server.MaxRequestSizeMB) * 1024 * 1024
	body := http.MaxBytesReader(w, r.Body, maxBytes)

	var plan QueryPlan
	if err := json.NewDecoder(body).Decode(&plan); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("malformed plan: %w", err))
		return
	}

	op, err := buildPlan(r.Context(), &plan)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer op.Close()

	// ?format=binary streams the engine's batch wire format instead of JSON
	if r.URL.Query().Get("format") == "binary" {
		raw, err := drainBinary(op)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.log.Info("query served",
			zap.String("source", plan.Source.Type),
			zap.String("format", "binary"),
			zap.Int("bytes", len(raw)),
			zap.Duration("took", time.Since(started)),
		)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(raw)
		return
	}

	resp, err := drain(op)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.log.Info("query served",
		zap.String("source", plan.Source.Type),
		zap.Int("window_exprs", len(plan.Window)),
		zap.Int("rows", len(resp.Rows)),
		zap.Duration("took", time.Since(started)),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// drain pulls the operator to EOF and boxes every row for the JSON encoder.
func drain(op operators.Operator) (*queryResponse, error) {
	schema := op.Schema()
	resp := &queryResponse{
		Columns: make([]string, schema.NumFields()),
		Rows:    [][]any{},
	}
	for i, f := range schema.Fields() {
		resp.Columns[i] = f.Name
	}

	batchSize := uint16(operators.DefaultChunkCapacity)
	if s := config.GetConfig().Batch.Size; s > 0 && s <= math.MaxUint16 {
		batchSize = uint16(s)
	}
	for {
		batch, err := op.Next(batchSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return resp, nil
			}
			return nil, err
		}
		for row := 0; row < int(batch.RowCount); row++ {
			out := make([]any, len(batch.Columns))
			for col, arr := range batch.Columns {
				out[col] = operators.ValueAt(arr, row)
			}
			resp.Rows = append(resp.Rows, out)
		}
	}
}

// drainBinary pulls the operator to EOF and encodes the stream in the
// engine's batch serialization format: one schema block, then one column
// block set per batch.
func drainBinary(op operators.Operator) ([]byte, error) {
	ss, err := operators.NewSerializer(op.Schema())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	head, err := ss.SerializeSchema(op.Schema())
	if err != nil {
		return nil, err
	}
	buf.Write(head)

	batchSize := uint16(operators.DefaultChunkCapacity)
	if s := config.GetConfig().Batch.Size; s > 0 && s <= math.MaxUint16 {
		batchSize = uint16(s)
	}
	for {
		batch, err := op.Next(batchSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf.Bytes(), nil
			}
			return nil, err
		}
		if batch.RowCount == 0 {
			continue
		}
		raw, err := ss.SerializeBatchColumns(*batch)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn("query failed", zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
