package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodec кодирует Message в JSON: по gRPC ходят те же сообщения, что и по /ws
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// controlHandler - то, что обслуживает поток stereochecker.Control/Stream
type controlHandler interface {
	Stream(ControlStream) error
}

// ControlStream - поток команд от клиента и событий сервиса
type ControlStream interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type controlStream struct {
	grpc.ServerStream
}

func (x *controlStream) Send(m *Message) error {
	return x.SendMsg(m)
}

func (x *controlStream) Recv() (*Message, error) {
	m := new(Message)
	if err := x.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func handleControlStream(srv any, stream grpc.ServerStream) error {
	return srv.(controlHandler).Stream(&controlStream{stream})
}

// controlServiceDesc описан вручную: .proto нет, кодек JSON
var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: "stereochecker.Control",
	HandlerType: (*controlHandler)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		Handler:       handleControlStream,
		ServerStreams: true,
		ClientStreams: true,
	}},
}

// grpcClient - подписчик на потоке; Send потока нельзя звать конкурентно
type grpcClient struct {
	stream ControlStream
	mu     sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func (c *grpcClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&msg)
}

func (c *grpcClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Stream обслуживает один gRPC клиент так же, как WebSocket соединение
func (s *Server) Stream(stream ControlStream) error {
	c := &grpcClient{stream: stream, done: make(chan struct{})}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		c.close()
	}()

	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			s.processMessage(stream.Context(), c, *msg)
		}
	}()

	select {
	case err := <-recvErr:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	case <-c.done:
		return nil
	}
}

// defaultGRPCAddress - unix сокет, на Windows именованный канал
func defaultGRPCAddress() string {
	if runtime.GOOS == "windows" {
		return "npipe:\\\\.\\pipe\\stereochecker-grpc"
	}
	return "unix:/tmp/stereochecker-grpc.sock"
}

func (s *Server) startGRPCServer() {
	addr := s.Config.GRPCAddress
	if addr == "" {
		addr = defaultGRPCAddress()
	}

	lis, err := listenGRPC(addr)
	if err != nil {
		log.Printf("Failed to start gRPC listener (%s): %v", addr, err)
		return
	}

	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	server.RegisterService(&controlServiceDesc, s)

	s.mu.Lock()
	s.grpcServer = server
	s.mu.Unlock()

	log.Printf("gRPC listening on %s", addr)
	if err := server.Serve(lis); err != nil {
		log.Printf("gRPC server stopped: %v", err)
	}
}

func (s *Server) stopGRPCServer() {
	s.mu.Lock()
	server := s.grpcServer
	s.grpcServer = nil
	s.mu.Unlock()
	if server != nil {
		server.Stop()
	}
}

func listenGRPC(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		socketPath := strings.TrimPrefix(addr, "unix:")
		if err := removeIfExists(socketPath); err != nil {
			return nil, err
		}
		return net.Listen("unix", socketPath)
	case strings.HasPrefix(addr, "npipe:"):
		pipePath := strings.TrimPrefix(addr, "npipe:")
		return listenPipe(pipePath)
	default:
		// TCP - для тестов и удалённых клиентов
		return net.Listen("tcp", addr)
	}
}

func removeIfExists(path string) error {
	if path == "" {
		return errors.New("empty socket path")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
