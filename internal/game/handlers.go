package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/eventbus"
	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/network"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/storage"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// shipDims — габариты нового корабля в чанках
var shipDims = vec.Vec3{X: 4, Y: 4, Z: 4}

// handleMessage обрабатывает одно входящее сообщение клиента
func (g *Game) handleMessage(in network.InboundMessage) {
	var err error
	switch in.Msg.Type {
	case protocol.MsgTypeJoin:
		err = g.handleJoin(in)
	case protocol.MsgTypePlayerMove:
		err = g.handlePlayerMove(in)
	case protocol.MsgTypeBlockBreak:
		err = g.handleBlockBreak(in)
	case protocol.MsgTypeBlockPlace:
		err = g.handleBlockPlace(in)
	case protocol.MsgTypeBlockInteract:
		err = g.handleBlockInteract(in)
	case protocol.MsgTypeCreateShip:
		err = g.handleCreateShip(in)
	case protocol.MsgTypeRequestEntity:
		err = g.handleRequestEntity(in)
	case protocol.MsgTypeDisconnect:
		g.net.Disconnect(in.ClientID, fmt.Errorf("клиент попрощался"))
	default:
		logging.Warn("Неизвестный тип сообщения %q от %s", in.Msg.Type, in.ClientID)
	}

	if err != nil {
		if protocol.IsDecodeError(err) {
			logging.LogProtocolError(in.ClientID, err, in.Msg.Data)
			g.net.NoteDecodeError(in.ClientID)
			return
		}
		logging.Warn("Обработка %s от %s: %v", in.Msg.Type, in.ClientID, err)
	}
}

func (g *Game) handleJoin(in network.InboundMessage) error {
	var req protocol.JoinRequest
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}
	if _, exists := g.PlayerByClient(in.ClientID); exists {
		return fmt.Errorf("повторный join")
	}

	g.mu.Lock()
	g.nextPlayerID++
	id := g.nextPlayerID
	g.mu.Unlock()

	p := NewPlayer(id, in.ClientID, req.Name)

	// Возвращаем игрока на сохранённую позицию, если она есть
	spawn := coords.Position{}
	if g.positions != nil {
		if saved, found, err := g.positions.Load(context.Background(), stablePlayerKey(req.Name)); err == nil && found {
			spawn = saved.Position
		}
	}
	g.frames.AddPlayer(p, spawn)

	g.mu.Lock()
	g.players[id] = p
	g.byClient[in.ClientID] = p
	g.mu.Unlock()

	g.producer.AddClient(in.ClientID, id)
	g.interest.AddObserver(id)

	if err := g.sendTo(in.ClientID, protocol.MsgTypeJoinResponse, protocol.JoinResponse{
		Success:  true,
		PlayerID: id,
		FrameID:  p.FrameID(),
	}); err != nil {
		return err
	}
	if err := g.sendTo(in.ClientID, protocol.MsgTypeMOTD, protocol.MOTDMessage{
		Motd: g.cfg.Server.MOTD,
	}); err != nil {
		return err
	}

	// Новичок видит уже подключённых, остальные — новичка
	g.mu.Lock()
	others := make([]*Player, 0, len(g.players))
	for _, other := range g.players {
		if other.ID != id {
			others = append(others, other)
		}
	}
	g.mu.Unlock()

	for _, other := range others {
		_ = g.sendTo(in.ClientID, protocol.MsgTypePlayerCreate, playerCreateMsg(other))
	}

	msg, err := protocol.NewMessage(protocol.MsgTypePlayerCreate, playerCreateMsg(p))
	if err == nil {
		g.net.Broadcast(msg)
	}

	logging.Info("👤 Игрок %q (#%d) вошёл в игру", p.Name, p.ID)
	return eventbus.PublishEvent(context.Background(), "game", eventbus.EventPlayerJoin, map[string]interface{}{
		"player_id": p.ID,
		"name":      p.Name,
	})
}

func playerCreateMsg(p *Player) protocol.PlayerCreateMessage {
	return protocol.PlayerCreateMessage{
		PlayerID: p.ID,
		Name:     p.Name,
		FrameID:  p.FrameID(),
		Position: p.Position(),
	}
}

// HandleDisconnect вызывается сетевым слоем при обрыве соединения
func (g *Game) HandleDisconnect(clientID string) {
	p, ok := g.PlayerByClient(clientID)
	if !ok {
		return
	}

	if g.positions != nil {
		if global, err := g.frames.GlobalOf(p); err == nil {
			_ = g.positions.Save(context.Background(), &storage.PlayerPosition{
				PlayerID: stablePlayerKey(p.Name),
				FrameID:  p.FrameID(),
				Position: global,
				Rotation: p.Rotation(),
			})
		}
	}

	g.frames.Remove(p)
	g.interest.RemoveObserver(p.ID)
	g.producer.RemoveClient(clientID)
	if g.udp != nil {
		g.udp.Forget(clientID)
	}

	g.mu.Lock()
	delete(g.players, p.ID)
	delete(g.byClient, clientID)
	g.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.MsgTypePlayerRemove, protocol.PlayerRemoveMessage{PlayerID: p.ID})
	if err == nil {
		g.net.Broadcast(msg)
	}

	logging.Info("👤 Игрок %q (#%d) вышел", p.Name, p.ID)
	_ = eventbus.PublishEvent(context.Background(), "game", eventbus.EventPlayerLeave, map[string]interface{}{
		"player_id": p.ID,
	})
}

// stablePlayerKey — устойчивый между сессиями ключ позиций.
// Идентификация по имени, пока нет внешней аутентификации.
func stablePlayerKey(name string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

func (g *Game) handlePlayerMove(in network.InboundMessage) error {
	var req protocol.PlayerMoveRequest
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}

	p, ok := g.PlayerByClient(in.ClientID)
	if !ok {
		return fmt.Errorf("игрок не найден")
	}

	// Движение доверенное: позиция применяется без ревалидации
	p.ApplyMovement(req.Position, req.Rotation, vec.Vec3Float{}, g.tick)
	return nil
}

func (g *Game) handleBlockBreak(in network.InboundMessage) error {
	var req protocol.BlockBreakRequest
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}

	err := g.store.SetBlock(req.StructureID, req.Pos, block.Block{})
	switch {
	case errors.Is(err, world.ErrCoreBlockProtected):
		// Отказ мутации уходит игровой системе, не рвёт соединение
		return g.sendTo(in.ClientID, protocol.MsgTypeServerMessage, protocol.ServerMessage{
			Level:   "warning",
			Content: "Ядро корабля нельзя убрать, пока целы другие блоки",
		})
	case errors.Is(err, world.ErrInvalidCoordinate):
		logging.Debug("Разрушение вне границ структуры %d: %v", req.StructureID, req.Pos)
		return nil
	}
	return err
}

func (g *Game) handleBlockPlace(in network.InboundMessage) error {
	var req protocol.BlockPlaceRequest
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}

	s, ok := g.store.Get(req.StructureID)
	if !ok {
		return world.ErrUnknownStructure
	}

	// Защита от рассинхрона: клиент присылает блок, который видит
	cur, err := s.BlockAt(req.Pos)
	if err != nil {
		return err
	}
	if uint16(cur.ID) != req.ExpectedID {
		logging.Debug("Рассинхрон у %s: структура %d %v, видит %d, на сервере %d",
			in.ClientID, req.StructureID, req.Pos, req.ExpectedID, cur.ID)
		return g.sendTo(in.ClientID, protocol.MsgTypeServerMessage, protocol.ServerMessage{
			Level:   "warning",
			Content: "Блок изменился, попробуйте ещё раз",
		})
	}

	return g.store.SetBlock(req.StructureID, req.Pos, block.Block{
		ID:       block.ID(req.BlockID),
		Rotation: block.Rotation(req.Rotation),
		Health:   block.FullHealth,
	})
}

func (g *Game) handleBlockInteract(in network.InboundMessage) error {
	var req protocol.BlockInteractRequest
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}

	s, ok := g.store.Get(req.StructureID)
	if !ok {
		return world.ErrUnknownStructure
	}
	b, err := s.BlockAt(req.Pos)
	if err != nil {
		return err
	}

	// Игровых систем на блоках пока нет: событие уходит в шину
	return eventbus.PublishEvent(context.Background(), "game", eventbus.EventBlockChanged, map[string]interface{}{
		"structure_id": req.StructureID,
		"pos":          req.Pos,
		"block_id":     b.ID,
		"interact":     true,
		"alternate":    req.Alternate,
	})
}

func (g *Game) handleCreateShip(in network.InboundMessage) error {
	var req protocol.CreateShipRequest
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}

	p, ok := g.PlayerByClient(in.ClientID)
	if !ok {
		return fmt.Errorf("игрок не найден")
	}
	global, err := g.frames.GlobalOf(p)
	if err != nil {
		return err
	}

	// Корабль появляется чуть впереди игрока
	spawnAt := global.Shift(vec.Vec3Float{X: 10})
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Корабль %s", p.Name)
	}

	ship := g.store.CreateStructure(world.KindShip, name, shipDims, spawnAt, g.cfg.World.Seed)
	g.frames.AddStructure(ship, spawnAt)

	// Единственный стартовый блок — ядро в центре
	center := vec.Vec3{
		X: shipDims.X * world.ChunkSize / 2,
		Y: shipDims.Y * world.ChunkSize / 2,
		Z: shipDims.Z * world.ChunkSize / 2,
	}
	if err := g.store.SetBlock(ship.ID, center, block.New(block.ShipCoreID)); err != nil {
		return err
	}

	logging.Info("🚀 Игрок %q построил корабль %q (#%d)", p.Name, name, ship.ID)
	return eventbus.PublishEvent(context.Background(), "game", eventbus.EventStructureSpawn, map[string]interface{}{
		"structure_id": ship.ID,
		"kind":         world.KindShip.String(),
		"owner":        p.ID,
	})
}

func (g *Game) handleRequestEntity(in network.InboundMessage) error {
	var req protocol.RequestEntityMessage
	if err := in.Msg.DecodeData(&req); err != nil {
		return err
	}
	return g.producer.HandleRequestEntity(in.ClientID, req.StructureID)
}

func (g *Game) sendTo(clientID, msgType string, payload interface{}) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return g.net.Send(clientID, msg)
}
