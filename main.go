package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"PotholeDetect/alert"
	"PotholeDetect/engine"
	"PotholeDetect/logger"
	"PotholeDetect/monitor"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

const (
	IDLE = 0x1001
	BUSY = 0x1002
)

type configStruct struct {
	HTTPPort        int     `yaml:"HTTPPort"`
	MonitorPort     int     `yaml:"MonitorPort"`
	WorkersNum      int     `yaml:"workersNum"`
	ModelPath       string  `yaml:"modelPath"`
	HeuristicOnly   bool    `yaml:"heuristicOnly"`
	MinConfidence   float64 `yaml:"minConfidence"`
	AlertWebhookURL string  `yaml:"alertWebhookURL"`
	AlertCooldownMs int     `yaml:"alertCooldownMs"`
}

// DetectorParam is the request body for creating workers. Zero values fall
// back to the server configuration.
type DetectorParam struct {
	MinConfidence float64
	ModelPath     string
	HeuristicOnly bool
	Description   string
}

// worker pairs one detector facade with a busy flag. A facade instance
// processes one frame at a time; the flag and mutex serialize callers.
type worker struct {
	mu          sync.Mutex
	State       int
	Description string
	facade      *engine.Facade
}

type instance struct {
	id          string
	worker      *worker
	lastActive  time.Time
	conn        *websocket.Conn
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

var (
	seqMu     sync.RWMutex
	workers   = map[string]*worker{}
	sessionMu sync.RWMutex
	sessions  = map[string]*instance{}
	upgrader  = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	idleTimeout = 1000 * time.Millisecond
	notifier    *alert.Notifier
)

func addWorker(param DetectorParam) string {
	facade := engine.NewFacade(engine.FacadeOptions{
		MinConfidence: param.MinConfidence,
		ModelPath:     param.ModelPath,
		HeuristicOnly: param.HeuristicOnly,
	})
	w := &worker{
		State:       IDLE,
		Description: param.Description,
		facade:      facade,
	}
	id := uuid.New().String()
	seqMu.Lock()
	workers[id] = w
	seqMu.Unlock()
	return id
}

func allocInstance() (string, string, error) {
	seqMu.RLock()
	var chosenID string
	var chosen *worker
	for id, w := range workers {
		w.mu.Lock()
		if w.State == IDLE {
			w.State = BUSY
			chosenID = id
			chosen = w
			w.mu.Unlock()
			break
		}
		w.mu.Unlock()
	}
	seqMu.RUnlock()
	if chosen == nil {
		return "", "", errors.New("no available workers")
	}

	sessionID := uuid.New().String()
	inst := &instance{
		id:          sessionID,
		worker:      chosen,
		lastActive:  time.Now(),
		cancelTimer: make(chan struct{}),
	}

	sessionMu.Lock()
	sessions[sessionID] = inst
	sessionMu.Unlock()

	return sessionID, chosenID, nil
}

func releaseInstance(sessionID string) bool {
	sessionMu.Lock()
	inst, ok := sessions[sessionID]
	if ok {
		delete(sessions, sessionID)
	}
	sessionMu.Unlock()
	if !ok {
		return false
	}

	inst.closeOnce.Do(func() {
		if inst.conn != nil {
			_ = inst.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "1000 ms not active, released"))
			_ = inst.conn.Close()
		}
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	inst.worker.mu.Lock()
	inst.worker.State = IDLE
	inst.worker.mu.Unlock()
	return true
}

func startIdleMonitor(inst *instance) {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if time.Since(inst.lastActive) > idleTimeout {
					_ = releaseInstance(inst.id)
					logger.S().Info("IdleMonitor timed out, session released")
					return
				}
			}
		}
	}()
}

// Base64ToMat decodes a base64 string (optionally with a data:image/...
// prefix) into a gocv.Mat.
func Base64ToMat(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return gocv.NewMat(), err
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		// An empty Mat from IMDecode means the image could not be decoded.
		err := mat.Close()
		if err != nil {
			return gocv.Mat{}, err
		}
		return gocv.NewMat(), errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}

// detectOnWorker serializes one detection call on the worker's facade and
// fires the cooldown-gated alert when anything was found.
func detectOnWorker(w *worker, mat gocv.Mat) []map[string]float64 {
	w.mu.Lock()
	detections := w.facade.Detect(mat)
	w.mu.Unlock()
	monitor.DetectTotal.Inc()

	if notifier != nil {
		notifier.Notify(w.facade.StateName(), detections)
	}

	out := make([]map[string]float64, 0, len(detections))
	for _, d := range detections {
		out = append(out, map[string]float64{
			"x": d.X, "y": d.Y, "w": d.W, "h": d.H, "confidence": d.Conf,
		})
	}
	return out
}

func main() {
	if err := logger.InitProduction(); err != nil {
		fmt.Println("Failed to init logger:", err)
		return
	}
	defer logger.Sync()

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", CPUNum)

	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		return
	}
	config := configStruct{}
	err = yaml.Unmarshal(configData, &config)
	if err != nil {
		fmt.Println("Failed to parse config file:", err)
		return
	}
	fmt.Println("  HTTP Port:", config.HTTPPort)
	fmt.Println("  Monitor Port:", config.MonitorPort)
	fmt.Println("  Configured Workers Num:", config.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	if config.WorkersNum <= 0 {
		config.WorkersNum = 1
		fmt.Println("Invalid workersNum in config, defaulting to 1")
	}

	notifier = alert.NewNotifier(config.AlertWebhookURL,
		time.Duration(config.AlertCooldownMs)*time.Millisecond)
	if notifier.Enabled() {
		logger.S().Infof("alert webhook enabled: %s", config.AlertWebhookURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.StartMon(config.MonitorPort, ctx)

	for i := 0; i < config.WorkersNum; i++ {
		id := addWorker(DetectorParam{
			MinConfidence: config.MinConfidence,
			ModelPath:     config.ModelPath,
			HeuristicOnly: config.HeuristicOnly,
			Description:   "Default Worker",
		})
		logger.S().Infof("worker %s ready", id)
	}

	r := gin.Default()
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/workers/init/:count", func(c *gin.Context) {
		countStr := c.Param("count")
		var count int
		_, err := fmt.Sscanf(countStr, "%d", &count)
		if err != nil || count <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid count"})
			return
		}

		var initParam DetectorParam
		if err := c.ShouldBindJSON(&initParam); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if initParam.ModelPath == "" {
			initParam.ModelPath = config.ModelPath
		}

		ids := make([]string, count)
		for i := 0; i < count; i++ {
			ids[i] = addWorker(initParam)
		}
		c.JSON(http.StatusOK, gin.H{"data": ids})
	})
	r.GET("/api/workers/check/:id", func(c *gin.Context) {
		id := c.Param("id")
		seqMu.RLock()
		w, exists := workers[id]
		seqMu.RUnlock()
		if !exists {
			c.JSON(404, gin.H{"error": "Worker not found"})
			return
		}
		w.mu.Lock()
		state := w.State
		description := w.Description
		detector := w.facade.StateName()
		minConf := w.facade.MinConfidence()
		w.mu.Unlock()
		retData := map[string]any{
			"state":         state,
			"description":   description,
			"detector":      detector,
			"minConfidence": minConf,
		}
		c.JSON(200, gin.H{"data": retData})
	})
	r.POST("/api/workers/:id/threshold", func(c *gin.Context) {
		id := c.Param("id")
		seqMu.RLock()
		w, exists := workers[id]
		seqMu.RUnlock()
		if !exists {
			c.JSON(404, gin.H{"error": "Worker not found"})
			return
		}
		var body struct {
			MinConfidence float64 `json:"minConfidence"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if body.MinConfidence < 0 || body.MinConfidence > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minConfidence must be between 0.0 and 1.0"})
			return
		}
		w.facade.SetMinConfidence(body.MinConfidence)
		c.JSON(200, gin.H{"data": w.facade.MinConfidence()})
	})
	r.POST("/api/workers/:id/detect", func(c *gin.Context) {
		id := c.Param("id")
		seqMu.RLock()
		w, exists := workers[id]
		seqMu.RUnlock()
		if !exists {
			c.JSON(404, gin.H{"error": "Worker not found"})
			return
		}
		var body struct {
			Image string `json:"image"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mat, err := Base64ToMat(body.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid image: %v", err)})
			return
		}
		result := detectOnWorker(w, mat)
		_ = mat.Close()
		c.JSON(http.StatusOK, gin.H{"data": result, "detector": w.facade.StateName()})
	})
	r.POST("/api/workers/alloc", func(c *gin.Context) {
		sessionID, workerID, err := allocInstance()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "All workers are busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionID": sessionID,
			"workerID":  workerID,
			"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sessionID),
			"timeoutMs": idleTimeout.Milliseconds(),
		})
	})
	r.POST("/api/workers/:id/release", func(c *gin.Context) {
		sessionID := c.Param("id")
		if !releaseInstance(sessionID) {
			c.JSON(404, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(200, gin.H{"data": "Session released"})
	})
	r.GET("/ws/:sessionID", func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		// Check the session before upgrading; afterwards JSON answers are
		// no longer possible.
		sessionMu.RLock()
		inst, exists := sessions[sessionID]
		sessionMu.RUnlock()
		if !exists {
			c.JSON(404, gin.H{"error": "Session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		inst.conn = conn
		conn.SetReadLimit(20 * 1024 * 1024)

		startIdleMonitor(inst)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				releaseInstance(sessionID)
				logger.S().Infof("connection closed for session %s: %v", sessionID, err)
				return
			}
			inst.lastActive = time.Now()
			switch mt {
			case websocket.TextMessage:
				// Text frames carry one base64 image each.
				mat, err := Base64ToMat(string(msg))
				if err != nil {
					_ = conn.WriteJSON(gin.H{"error": fmt.Sprintf("invalid image: %v", err)})
					continue
				}
				result := detectOnWorker(inst.worker, mat)
				_ = mat.Close()
				_ = conn.WriteJSON(gin.H{"data": result})
			default:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("unsupported message type"))
			}
		}
	})

	if err := r.Run(fmt.Sprintf(":%d", config.HTTPPort)); err != nil {
		logger.S().Errorf("server exited: %v", err)
	}
}
