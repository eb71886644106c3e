package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
)

// InboundMessage — сообщение клиента вместе с его идентификатором
type InboundMessage struct {
	ClientID string
	Msg      *protocol.Message
}

// ClientSession — одно подключение игрока
type ClientSession struct {
	ID      string
	channel *Channel

	decodeErrs  int // Подряд идущие ошибки кадрирования (цикл чтения)
	payloadErrs int // Ошибки разбора полезной нагрузки (игровой цикл)
	closed      bool
	mu          sync.Mutex
}

// Send отправляет сообщение клиенту, проставляя его ClientID
func (cs *ClientSession) Send(msg *protocol.Message) error {
	msg.ClientID = cs.ID
	return cs.channel.Send(msg)
}

// Stats возвращает статистику канала клиента
func (cs *ClientSession) Stats() ConnectionStats {
	return cs.channel.Stats()
}

// GameServer принимает подключения (KCP или TCP), собирает входящие
// сообщения в очередь и отдаёт их игровому циклу через Drain.
type GameServer struct {
	listener net.Listener

	mu       sync.RWMutex
	sessions map[string]*ClientSession

	inbound chan InboundMessage

	onConnect    func(*ClientSession)
	onDisconnect func(*ClientSession, error)

	maxDecodeErrors int
	metrics         *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGameServer создаёт сервер на выбранном транспорте: "kcp" или "tcp"
func NewGameServer(transport string, port int, maxDecodeErrors int, metrics *Metrics) (*GameServer, error) {
	addr := fmt.Sprintf(":%d", port)

	var listener net.Listener
	var err error
	switch transport {
	case "kcp":
		listener, err = kcp.Listen(addr)
	case "tcp":
		listener, err = net.Listen("tcp", addr)
	default:
		return nil, fmt.Errorf("неизвестный транспорт: %q", transport)
	}
	if err != nil {
		return nil, fmt.Errorf("слушатель %s %s: %w", transport, addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GameServer{
		listener:        listener,
		sessions:        make(map[string]*ClientSession),
		inbound:         make(chan InboundMessage, 4096),
		maxDecodeErrors: maxDecodeErrors,
		metrics:         metrics,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// OnConnect устанавливает обработчик нового подключения
func (gs *GameServer) OnConnect(h func(*ClientSession)) { gs.onConnect = h }

// OnDisconnect устанавливает обработчик отключения
func (gs *GameServer) OnDisconnect(h func(*ClientSession, error)) { gs.onDisconnect = h }

// Start запускает цикл приёма подключений
func (gs *GameServer) Start() {
	gs.wg.Add(1)
	go gs.acceptLoop()
	logging.Info("🌐 Игровой сервер слушает %s", gs.listener.Addr())
}

func (gs *GameServer) acceptLoop() {
	defer gs.wg.Done()

	for {
		conn, err := gs.listener.Accept()
		if err != nil {
			select {
			case <-gs.ctx.Done():
				return
			default:
				logging.Warn("Ошибка accept: %v", err)
				continue
			}
		}

		if sess, ok := conn.(*kcp.UDPSession); ok {
			sess.SetNoDelay(1, 10, 2, 1)
			sess.SetStreamMode(true)
		}

		session := &ClientSession{
			ID:      uuid.NewString(),
			channel: NewChannel(conn, 60*time.Second),
		}

		gs.mu.Lock()
		gs.sessions[session.ID] = session
		gs.mu.Unlock()

		if gs.metrics != nil {
			gs.metrics.Connections.Inc()
			gs.metrics.ActiveSessions.Inc()
		}
		logging.Info("🔌 Клиент %s подключился (%s)", session.ID, conn.RemoteAddr())

		if gs.onConnect != nil {
			gs.onConnect(session)
		}

		gs.wg.Add(1)
		go gs.readLoop(session)
	}
}

// readLoop читает сообщения клиента до отключения. После порога подряд
// идущих ошибок декодирования соединение принудительно закрывается.
func (gs *GameServer) readLoop(session *ClientSession) {
	defer gs.wg.Done()

	var closeErr error
	for {
		msg, err := session.channel.Receive()
		if err != nil {
			if protocol.IsDecodeError(err) {
				session.mu.Lock()
				session.decodeErrs++
				n := session.decodeErrs
				session.mu.Unlock()

				logging.LogProtocolError(session.ID, err, nil)
				if gs.metrics != nil {
					gs.metrics.DecodeErrors.Inc()
				}
				if n < gs.maxDecodeErrors {
					continue
				}
				closeErr = fmt.Errorf("превышен порог ошибок декодирования (%d)", n)
			} else {
				closeErr = err
			}
			break
		}

		session.mu.Lock()
		session.decodeErrs = 0
		session.mu.Unlock()

		msg.ClientID = session.ID
		if gs.metrics != nil {
			gs.metrics.MessagesIn.Inc()
		}

		select {
		case gs.inbound <- InboundMessage{ClientID: session.ID, Msg: msg}:
		default:
			logging.Warn("Очередь входящих переполнена, сообщение %s от %s отброшено",
				msg.Type, session.ID)
		}
	}

	gs.closeSession(session, closeErr)
}

func (gs *GameServer) closeSession(session *ClientSession, reason error) {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return
	}
	session.closed = true
	session.mu.Unlock()

	_ = session.channel.Close()

	gs.mu.Lock()
	delete(gs.sessions, session.ID)
	gs.mu.Unlock()

	if gs.metrics != nil {
		gs.metrics.ActiveSessions.Dec()
	}
	logging.Info("🔌 Клиент %s отключился: %v", session.ID, reason)

	if gs.onDisconnect != nil {
		gs.onDisconnect(session, reason)
	}
}

// NoteDecodeError учитывает ошибку разбора полезной нагрузки сообщения.
// Конверт при этом валиден, поэтому цикл чтения такую ошибку не видит;
// порог обрыва тот же, что для ошибок кадрирования.
func (gs *GameServer) NoteDecodeError(clientID string) {
	gs.mu.RLock()
	session, ok := gs.sessions[clientID]
	gs.mu.RUnlock()
	if !ok {
		return
	}

	session.mu.Lock()
	session.payloadErrs++
	n := session.payloadErrs
	session.mu.Unlock()

	if gs.metrics != nil {
		gs.metrics.DecodeErrors.Inc()
	}
	if n >= gs.maxDecodeErrors {
		gs.closeSession(session, fmt.Errorf("превышен порог ошибок декодирования (%d)", n))
	}
}

// Disconnect принудительно закрывает сессию клиента
func (gs *GameServer) Disconnect(clientID string, reason error) {
	gs.mu.RLock()
	session, ok := gs.sessions[clientID]
	gs.mu.RUnlock()
	if ok {
		gs.closeSession(session, reason)
	}
}

// Session возвращает сессию клиента по ID
func (gs *GameServer) Session(clientID string) (*ClientSession, bool) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	s, ok := gs.sessions[clientID]
	return s, ok
}

// Send отправляет сообщение одному клиенту
func (gs *GameServer) Send(clientID string, msg *protocol.Message) error {
	session, ok := gs.Session(clientID)
	if !ok {
		return fmt.Errorf("клиент %s не подключён", clientID)
	}
	if gs.metrics != nil {
		gs.metrics.MessagesOut.Inc()
	}
	return session.Send(msg)
}

// Broadcast отправляет сообщение всем подключённым клиентам
func (gs *GameServer) Broadcast(msg *protocol.Message) {
	gs.mu.RLock()
	sessions := make([]*ClientSession, 0, len(gs.sessions))
	for _, s := range gs.sessions {
		sessions = append(sessions, s)
	}
	gs.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Send(msg); err != nil {
			logging.Warn("Ошибка рассылки клиенту %s: %v", s.ID, err)
		}
		if gs.metrics != nil {
			gs.metrics.MessagesOut.Inc()
		}
	}
}

// Drain забирает входящие сообщения, накопившиеся с прошлого тика
func (gs *GameServer) Drain() []InboundMessage {
	var out []InboundMessage
	for {
		select {
		case m := <-gs.inbound:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Stop останавливает сервер и закрывает все сессии
func (gs *GameServer) Stop() {
	gs.cancel()
	_ = gs.listener.Close()

	gs.mu.Lock()
	sessions := make([]*ClientSession, 0, len(gs.sessions))
	for _, s := range gs.sessions {
		sessions = append(sessions, s)
	}
	gs.mu.Unlock()

	for _, s := range sessions {
		gs.closeSession(s, fmt.Errorf("сервер остановлен"))
	}
	gs.wg.Wait()
}
