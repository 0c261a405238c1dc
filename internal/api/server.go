package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"stereochecker/internal/config"
	"stereochecker/internal/service"
	"stereochecker/stereo"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client - подключённый клиент (WebSocket или gRPC stream)
type client interface {
	send(Message) error
	close()
}

// wsClient сериализует запись: gorilla не разрешает конкурентный WriteJSON
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) close() {
	c.conn.Close()
}

type Server struct {
	Config *config.Config
	Stereo *service.StereoService

	clients map[client]bool
	mu      sync.Mutex

	httpServer *http.Server
	grpcServer *grpc.Server
}

func NewServer(cfg *config.Config, svc *service.StereoService) *Server {
	s := &Server{
		Config:  cfg,
		Stereo:  svc,
		clients: make(map[client]bool),
	}
	s.setupCallbacks()
	return s
}

// Start запускает HTTP (WebSocket) и gRPC серверы и блокируется до отмены ctx
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	lis, err := net.Listen("tcp", ":"+s.Config.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on :%s: %w", s.Config.Port, err)
	}
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Backend listening on %s", lis.Addr())
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go s.startGRPCServer()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.stopGRPCServer()
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	s.stopGRPCServer()
	s.closeClients()
	log.Printf("Backend stopped")
	return nil
}

func (s *Server) setupCallbacks() {
	s.Stereo.OnState = func(st service.State) {
		s.broadcast(Message{Type: TypeState, State: &st})
	}

	s.Stereo.OnAnalysisState = func(change stereo.StateChange) {
		msg := Message{Type: TypeAnalysisState, Analysis: &change, RunID: change.RunID}
		if change.Err != nil {
			msg.Error = change.Err.Error()
			msg.Reason = failureReason(change.Err)
		}
		s.broadcast(msg)
	}

	s.Stereo.OnAnalysisResult = func(result *stereo.AnalysisResult) {
		s.broadcast(Message{Type: TypeAnalysisResult, Result: result, RunID: result.ID})
	}

	// Отказ никогда не отправляется как результат с isStereo=false
	s.Stereo.OnAnalysisFailed = func(runID string, err error) {
		msg := errorMessage(TypeAnalysisFailed, err)
		msg.RunID = runID
		s.broadcast(msg)
	}
}

func (s *Server) addClient(c client) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
}

func (s *Server) removeClient(c client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	targets := make([]client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			log.Printf("Write error: %v", err)
			c.close()
			s.removeClient(c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade:", err)
		return
	}

	c := &wsClient{conn: conn}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		c.close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			log.Println("Read:", err)
			break
		}
		s.processMessage(r.Context(), c, msg)
	}
}

// reply отправляет ответ одному клиенту
func reply(c client, msg Message) {
	if err := c.send(msg); err != nil {
		log.Printf("Write error: %v", err)
	}
}

// replyErr отправляет ошибку; ErrNotReady - no-op, его только логируем
func replyErr(c client, typ string, err error) {
	if errors.Is(err, stereo.ErrNotReady) {
		log.Debugf("%s ignored: %v", typ, err)
		return
	}
	reply(c, errorMessage(TypeError, fmt.Errorf("%s: %w", typ, err)))
}

func (s *Server) processMessage(ctx context.Context, c client, msg Message) {
	switch msg.Type {
	case TypeGetDevices:
		devices, err := s.Stereo.Devices()
		if err != nil {
			replyErr(c, msg.Type, err)
			return
		}
		reply(c, Message{Type: TypeDevices, Devices: devices})

	case TypeGetState:
		st := s.Stereo.State()
		reply(c, Message{Type: TypeState, State: &st})

	case TypeLoadFile:
		if msg.Path == "" {
			reply(c, Message{Type: TypeError, Error: "path is required", Reason: "bad_request"})
			return
		}
		// Загрузка и декодирование могут быть долгими
		go func() {
			if err := s.Stereo.Load(msg.Path); err != nil {
				replyErr(c, msg.Type, err)
			}
		}()

	case TypeUnload:
		go s.Stereo.Unload()

	case TypeToggle:
		if _, err := s.Stereo.Toggle(ctx); err != nil {
			replyErr(c, msg.Type, err)
		}

	case TypeSetRoute:
		kind, err := stereo.ParsePathKind(msg.Route)
		if err != nil {
			reply(c, Message{Type: TypeError, Error: err.Error(), Reason: "bad_request"})
			return
		}
		if err := s.Stereo.SetRoute(kind); err != nil {
			replyErr(c, msg.Type, err)
		}

	case TypeAnalyze:
		runID, err := s.Stereo.StartAnalysis()
		if err != nil {
			replyErr(c, msg.Type, err)
			return
		}
		reply(c, Message{Type: TypeAnalysisStart, RunID: runID})

	case TypeCancelAnalysis:
		if !s.Stereo.CancelAnalysis() {
			log.Debugf("cancel_analysis: no analysis in progress")
		}

	case TypeResume:
		if err := s.Stereo.Resume(ctx); err != nil {
			replyErr(c, msg.Type, err)
		}

	case TypePlay:
		if err := s.Stereo.Play(); err != nil {
			replyErr(c, msg.Type, err)
		}

	case TypePause:
		if err := s.Stereo.Pause(); err != nil {
			replyErr(c, msg.Type, err)
		}

	case TypeSeek:
		if msg.Position == nil {
			reply(c, Message{Type: TypeError, Error: "position is required", Reason: "bad_request"})
			return
		}
		if err := s.Stereo.Seek(*msg.Position); err != nil {
			replyErr(c, msg.Type, err)
		}

	default:
		reply(c, Message{Type: TypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type), Reason: "bad_request"})
	}
}
