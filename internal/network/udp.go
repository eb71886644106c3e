package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
)

// UDPPositionServer принимает позиции игроков без гарантий доставки:
// одна датаграмма — одно сообщение position_update. Из пришедших не
// по порядку побеждает самая свежая (по полю Tick), остальные
// отбрасываются.
type UDPPositionServer struct {
	conn *net.UDPConn

	mu     sync.Mutex
	latest map[string]protocol.EntityPosition // ClientID -> свежайшая позиция
	addrs  map[string]*net.UDPAddr            // ClientID -> обратный адрес

	metrics *Metrics
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewUDPPositionServer открывает UDP-порт позиций
func NewUDPPositionServer(port int, metrics *Metrics) (*UDPPositionServer, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp слушатель :%d: %w", port, err)
	}

	return &UDPPositionServer{
		conn:    conn,
		latest:  make(map[string]protocol.EntityPosition),
		addrs:   make(map[string]*net.UDPAddr),
		metrics: metrics,
		done:    make(chan struct{}),
	}, nil
}

// Start запускает цикл чтения датаграмм
func (us *UDPPositionServer) Start() {
	us.wg.Add(1)
	go us.readLoop()
	logging.Info("📡 UDP-канал позиций слушает %s", us.conn.LocalAddr())
}

func (us *UDPPositionServer) readLoop() {
	defer us.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := us.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-us.done:
				return
			default:
				logging.Warn("Ошибка чтения UDP: %v", err)
				continue
			}
		}

		us.handleDatagram(buf[:n], from)
	}
}

func (us *UDPPositionServer) handleDatagram(data []byte, from *net.UDPAddr) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Канал без гарантий: мусор молча отбрасывается
		return
	}
	if msg.Type != protocol.MsgTypePositionUpdate || msg.ClientID == "" {
		return
	}

	var upd protocol.PositionUpdateMessage
	if err := msg.DecodeData(&upd); err != nil {
		return
	}

	us.mu.Lock()
	us.addrs[msg.ClientID] = from
	for _, p := range upd.Positions {
		if prev, ok := us.latest[msg.ClientID]; ok && prev.Tick > p.Tick {
			continue // Датаграмма пришла не по порядку
		}
		us.latest[msg.ClientID] = p
	}
	us.mu.Unlock()

	if us.metrics != nil {
		us.metrics.PositionsIn.Inc()
	}
}

// Drain забирает свежайшие позиции, пришедшие с прошлого тика
func (us *UDPPositionServer) Drain() map[string]protocol.EntityPosition {
	us.mu.Lock()
	defer us.mu.Unlock()

	if len(us.latest) == 0 {
		return nil
	}
	out := us.latest
	us.latest = make(map[string]protocol.EntityPosition)
	return out
}

// SendPositions рассылает пакет позиций клиенту по его обратному адресу
func (us *UDPPositionServer) SendPositions(clientID string, upd *protocol.PositionUpdateMessage) error {
	us.mu.Lock()
	addr, ok := us.addrs[clientID]
	us.mu.Unlock()
	if !ok {
		return nil // Клиент ещё не присылал позиций: адрес неизвестен
	}

	msg, err := protocol.NewMessage(protocol.MsgTypePositionUpdate, upd)
	if err != nil {
		return err
	}
	msg.ClientID = clientID

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = us.conn.WriteToUDP(data, addr)
	if err == nil && us.metrics != nil {
		us.metrics.PositionsOut.Inc()
	}
	return err
}

// Forget удаляет состояние отключившегося клиента
func (us *UDPPositionServer) Forget(clientID string) {
	us.mu.Lock()
	delete(us.latest, clientID)
	delete(us.addrs, clientID)
	us.mu.Unlock()
}

// Stop закрывает UDP-порт
func (us *UDPPositionServer) Stop() {
	close(us.done)
	_ = us.conn.Close()
	us.wg.Wait()
}
