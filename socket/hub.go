package socket

import (
	"encoding/json"
	"sync"

	"kanban/pkg/logger"
)

const (
	VersionType = "VERSION" // Stored board version changed (or initial version on join)

	broadcastBuffer = 256
)

type WSMessage struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload"`
}

type VersionPayload struct {
	Version int64 `json:"version"`
}

// VersionEvent announces a project's new stored version.
type VersionEvent struct {
	ProjectID string
	Version   int64
}

// Hub fans board version changes out to the clients subscribed to each project.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan VersionEvent
	Register   chan *Client
	Unregister chan *Client
	mu         sync.Mutex
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan VersionEvent, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.ProjectID] == nil {
				h.Rooms[client.ProjectID] = make(map[*Client]bool)
			}
			h.Rooms[client.ProjectID][client] = true
			h.mu.Unlock()

			// The version is read only after the client joined its room, so an
			// update landing in between is either in this read or broadcast later.
			version, err := client.currentVersion()
			if err != nil {
				logger.Sugar.Errorf("Error loading version of project %s: %v", client.ProjectID, err)
				h.mu.Lock()
				h.removeClient(client)
				h.mu.Unlock()
				continue
			}
			msg, err := versionMessage(client.ProjectID, version)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling initial version: %v", err)
				continue
			}
			client.lastVersion = version
			client.Send <- msg

		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case ev := <-h.Broadcast:
			payload, err := versionMessage(ev.ProjectID, ev.Version)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.Rooms[ev.ProjectID] {
				// Versions only move forward for a subscriber.
				if ev.Version <= client.lastVersion {
					continue
				}
				select {
				case client.Send <- payload:
					client.lastVersion = ev.Version
				default:
					// The client is lagging; drop it rather than block the hub.
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.ID)
					h.removeClient(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.Rooms {
				for client := range clients {
					h.removeClient(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues a version change for a project without blocking the caller.
func (h *Hub) Publish(projectID string, version int64) {
	select {
	case h.Broadcast <- VersionEvent{ProjectID: projectID, Version: version}:
	default:
		logger.Sugar.Warnf("Broadcast queue full, dropping version %d of project %s", version, projectID)
	}
}

// RoomSize reports how many clients are subscribed to a project.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[projectID])
}

// removeClient must be called with h.mu held.
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.Rooms[client.ProjectID][client]; !ok {
		return
	}
	delete(h.Rooms[client.ProjectID], client)
	close(client.Send)
	if len(h.Rooms[client.ProjectID]) == 0 {
		delete(h.Rooms, client.ProjectID)
		logger.Sugar.Debugf("Closed empty room: %s", client.ProjectID)
	}
}

func versionMessage(projectID string, version int64) ([]byte, error) {
	payload, err := json.Marshal(VersionPayload{Version: version})
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: VersionType, ProjectID: projectID, Payload: payload})
}
