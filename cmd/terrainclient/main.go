package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"terrainstream/internal/network"
	"terrainstream/internal/world"
)

func main() {
	server := flag.String("server", "127.0.0.1:19100", "terrain server address")
	path := flag.String("path", "/ws", "websocket path")
	radius := flag.Float64("radius", 8, "radius of the circular viewpoint walk")
	steps := flag.Int("steps", 64, "number of viewpoint updates to send")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between viewpoint updates")
	verbose := flag.Bool("verbose", false, "log every chunk update")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *server, Path: *path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer conn.Close()

	if err := send(conn, network.MessageHello, network.Hello{Client: "terrainclient", Version: network.ProtocolVersion}); err != nil {
		log.Fatalf("send hello: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn, *verbose)
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 0; i < *steps; i++ {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		angle := 2 * math.Pi * float64(i) / float64(*steps)
		vp := network.Viewpoint{X: *radius * math.Cos(angle), Y: *radius * math.Sin(angle)}
		if err := send(conn, network.MessageViewpoint, vp); err != nil {
			log.Fatalf("send viewpoint: %v", err)
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func send(conn *websocket.Conn, msgType network.MessageType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := network.Encode(network.Envelope{Type: msgType, Timestamp: time.Now().UTC(), Payload: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readLoop(conn *websocket.Conn, verbose bool) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read: %v", err)
			}
			return
		}
		env, err := network.Decode(msg)
		if err != nil {
			log.Printf("decode: %v", err)
			continue
		}
		switch env.Type {
		case network.MessageWelcome:
			var welcome network.Welcome
			if err := network.DecodePayload(env, &welcome); err == nil {
				fmt.Printf("session %s on %s: resolution %d, %d chunks, centroid (%d,%d)\n",
					welcome.SessionID, welcome.ServerID, welcome.Resolution, welcome.ChunkCount, welcome.Centroid.X, welcome.Centroid.Y)
			}
		case network.MessageFrame:
			var frame network.Frame
			if err := network.DecodePayload(env, &frame); err == nil {
				fmt.Printf("frame %d centroid (%d,%d) ready=%d pending=%d recomputed=%d cached=%d elevation=[%.3f,%.3f]\n",
					frame.Number, frame.Centroid.X, frame.Centroid.Y, frame.Ready, frame.Pending,
					frame.Recomputed, frame.Cached, frame.MinElevation, frame.MaxElevation)
			}
		case network.MessageChunkUpdate:
			if !verbose {
				continue
			}
			var update network.ChunkUpdate
			if err := network.DecodePayload(env, &update); err != nil {
				continue
			}
			heights, err := world.DecodeTile(update.Heights)
			if err != nil {
				log.Printf("chunk %d: %v", update.Slot, err)
				continue
			}
			fmt.Printf("  slot %d -> (%d,%d): %d heights, %d bytes\n",
				update.Slot, update.Offset.X, update.Offset.Y, len(heights), len(update.Heights))
		}
	}
}
