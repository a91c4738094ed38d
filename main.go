package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"

	"LiveDetect/announce"
	"LiveDetect/engine"
	iface "LiveDetect/interface"
	"LiveDetect/logger"
	"LiveDetect/monitor"
	"LiveDetect/scheduler"
)

type configStruct struct {
	HTTPPort         int     `yaml:"HTTPPort"`
	MonitorPort      int     `yaml:"MonitorPort"`
	Backend          string  `yaml:"Backend"`
	ModelPath        string  `yaml:"ModelPath"`
	LabelPath        string  `yaml:"LabelPath"`
	NumThreads       int     `yaml:"NumThreads"`
	ConfThreshold    float32 `yaml:"ConfThreshold"`
	IouThreshold     float32 `yaml:"IouThreshold"`
	MaxDetections    int     `yaml:"MaxDetections"`
	InputWidth       int     `yaml:"InputWidth"`
	InputHeight      int     `yaml:"InputHeight"`
	Normalize        bool    `yaml:"Normalize"`
	ClassAwareNMS    bool    `yaml:"ClassAwareNMS"`
	SchedulingPolicy string  `yaml:"SchedulingPolicy"`
	FrameSkipBudget  int     `yaml:"FrameSkipBudget"`
	UseRegServer     bool    `yaml:"UseRegServer"`
	RegServerHost    string  `yaml:"RegServerHost"`
	RegServerPort    int     `yaml:"RegServerPort"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func GetOutboundIP() (string, error) {
	// No packet is actually sent; dialing only resolves the local route.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

// Base64ToFrame turns a base64 string (optionally with a data:image/ prefix)
// into an RGB frame for the pipeline.
func Base64ToFrame(b64 string) (iface.Frame, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return iface.Frame{}, err
	}
	return BytesToFrame(data)
}

// BytesToFrame decodes an encoded image (JPEG/PNG) into an RGB frame.
func BytesToFrame(data []byte) (iface.Frame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return iface.Frame{}, err
	}
	defer mat.Close()
	if mat.Empty() {
		// An empty Mat from IMDecode means the decode failed.
		return iface.Frame{}, errors.New("decoded image is empty or unsupported format")
	}
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)
	return iface.Frame{
		Data:     rgb.ToBytes(),
		Width:    rgb.Cols(),
		Height:   rgb.Rows(),
		Channels: rgb.Channels(),
	}, nil
}

func buildBackend(config configStruct, labels *engine.LabelTable) (iface.Backend, error) {
	switch config.Backend {
	case "tflite":
		return engine.NewTFLiteBackendFromFile(config.ModelPath, config.NumThreads)
	case "stub":
		// Mock mode: zeroed output, shaped for the configured resolution and
		// label count. Lets the host run end to end without a native runtime.
		numClasses := labels.Len()
		if numClasses == 0 {
			numClasses = 80
		}
		inShape := []int{1, config.InputHeight, config.InputWidth, 3}
		outShape := []int{1, 1, 4 + 1 + numClasses}
		return engine.NewStubBackend(inShape, outShape, make([]float32, 4+1+numClasses)), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", config.Backend)
	}
}

type configUpdate struct {
	ConfThreshold    *float32 `json:"confThreshold"`
	IouThreshold     *float32 `json:"iouThreshold"`
	MaxDetections    *int     `json:"maxDetections"`
	InputWidth       *int     `json:"inputWidth"`
	InputHeight      *int     `json:"inputHeight"`
	Normalize        *bool    `json:"normalize"`
	ClassAwareNMS    *bool    `json:"classAwareNms"`
	SchedulingPolicy *string  `json:"schedulingPolicy"`
	FrameSkipBudget  *int     `json:"frameSkipBudget"`
}

func applyConfigUpdate(p *engine.Pipeline, s *scheduler.Scheduler, u configUpdate) error {
	if u.ConfThreshold != nil {
		if *u.ConfThreshold < 0 || *u.ConfThreshold > 1 {
			return fmt.Errorf("confThreshold must be between 0.0 and 1.0, got %f", *u.ConfThreshold)
		}
		p.SetConfThreshold(*u.ConfThreshold)
	}
	if u.IouThreshold != nil {
		if *u.IouThreshold < 0 || *u.IouThreshold > 1 {
			return fmt.Errorf("iouThreshold must be between 0.0 and 1.0, got %f", *u.IouThreshold)
		}
		p.SetIouThreshold(*u.IouThreshold)
	}
	if u.MaxDetections != nil {
		if *u.MaxDetections < 1 {
			return fmt.Errorf("maxDetections must be >= 1, got %d", *u.MaxDetections)
		}
		p.SetMaxDetections(*u.MaxDetections)
	}
	if u.InputWidth != nil && u.InputHeight != nil {
		if *u.InputWidth <= 0 || *u.InputHeight <= 0 {
			return fmt.Errorf("input resolution must be positive")
		}
		p.SetInputSize(*u.InputWidth, *u.InputHeight)
	}
	if u.Normalize != nil {
		p.SetNormalize(*u.Normalize)
	}
	if u.ClassAwareNMS != nil {
		p.SetClassAwareNMS(*u.ClassAwareNMS)
	}
	if u.SchedulingPolicy != nil {
		switch *u.SchedulingPolicy {
		case "skip":
			s.SetPolicy(iface.PolicySkip)
		case "coalesce":
			s.SetPolicy(iface.PolicyCoalesce)
		default:
			return fmt.Errorf("unsupported schedulingPolicy: %s", *u.SchedulingPolicy)
		}
	}
	if u.FrameSkipBudget != nil {
		if *u.FrameSkipBudget < 0 {
			return fmt.Errorf("frameSkipBudget must be >= 0, got %d", *u.FrameSkipBudget)
		}
		s.SetSkipBudget(*u.FrameSkipBudget)
	}
	return nil
}

func setupRouter(pipe *engine.Pipeline, sched *scheduler.Scheduler) *gin.Engine {
	r := gin.Default()
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/config", func(c *gin.Context) {
		cfg := pipe.Config()
		policy, budget := sched.Policy()
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"confThreshold":    cfg.ConfThreshold,
			"iouThreshold":     cfg.IouThreshold,
			"maxDetections":    cfg.MaxDetections,
			"inputWidth":       cfg.InputWidth,
			"inputHeight":      cfg.InputHeight,
			"normalize":        cfg.Normalize,
			"classAwareNms":    cfg.ClassAwareNMS,
			"schedulingPolicy": policy.String(),
			"frameSkipBudget":  budget,
		}})
	})
	r.POST("/api/config", func(c *gin.Context) {
		var update configUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := applyConfigUpdate(pipe, sched, update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "config updated"})
	})
	r.POST("/api/detect", func(c *gin.Context) {
		var req struct {
			Image string `json:"image"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frame, err := Base64ToFrame(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image: " + err.Error()})
			return
		}
		batch, err := pipe.Detect(frame)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": batch})
	})
	r.GET("/ws/stream", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(20 * 1024 * 1024)
		defer conn.Close()

		var writeMu sync.Mutex
		send := func(mt int, payload []byte) {
			writeMu.Lock()
			_ = conn.WriteMessage(mt, payload)
			writeMu.Unlock()
		}
		obsID := pipe.Subscribe(func(batch iface.DetectionBatch) {
			writeMu.Lock()
			_ = conn.WriteJSON(gin.H{"detections": batch})
			writeMu.Unlock()
		})
		// Unsubscription is tied to this connection's lifetime.
		defer pipe.Unsubscribe(obsID)

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				logger.S().Infof("stream closed: %v", err)
				return
			}
			switch mt {
			case websocket.TextMessage:
				frame, err := Base64ToFrame(string(msg))
				if err != nil {
					send(websocket.TextMessage, []byte(fmt.Sprintf("invalid image: %v", err)))
					continue
				}
				sched.Submit(frame)
			case websocket.BinaryMessage:
				frame, err := BytesToFrame(msg)
				if err != nil {
					send(websocket.TextMessage, []byte(fmt.Sprintf("invalid image: %v", err)))
					continue
				}
				sched.Submit(frame)
			default:
				send(websocket.TextMessage, []byte("unsupported message type"))
			}
		}
	})
	r.POST("/api/models/upload", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}
		modelPath := fmt.Sprintf("./models/%s", file.Filename)
		err = c.SaveUploadedFile(file, modelPath)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": modelPath})
	})
	return r
}

func main() {
	ip, err := GetOutboundIP()
	if err != nil {
		fmt.Println("Failed to get outbound IP:", err)
		return
	}
	fmt.Println("Outbound IP:", ip)

	var wg sync.WaitGroup
	if err := logger.InitProduction(); err != nil {
		return
	}
	defer logger.Sync()

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	runtime.GOMAXPROCS(CPUNum)
	fmt.Printf("CPU Cores: %d\n", CPUNum)

	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		return
	}
	config := configStruct{}
	if err := yaml.Unmarshal(configData, &config); err != nil {
		fmt.Println("Failed to parse config file:", err)
		return
	}
	if config.HTTPPort == 0 {
		config.HTTPPort = 8080
	}
	if config.MonitorPort == 0 {
		config.MonitorPort = 50053
	}
	if config.ConfThreshold == 0 {
		config.ConfThreshold = 0.5
	}
	if config.IouThreshold == 0 {
		config.IouThreshold = 0.45
	}
	if config.MaxDetections <= 0 {
		config.MaxDetections = 10
	}
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		config.InputWidth = 320
		config.InputHeight = 320
	}
	if config.Backend == "" {
		config.Backend = "tflite"
	}
	fmt.Println(" HTTP    Port:", config.HTTPPort)
	fmt.Println(" Monitor Port:", config.MonitorPort)
	fmt.Println(" Backend     :", config.Backend)
	fmt.Println(" Model       :", config.ModelPath)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")

	var labels *engine.LabelTable
	if config.LabelPath != "" {
		labels, err = engine.LoadLabelTable(config.LabelPath)
		if err != nil {
			fmt.Println("Failed to load label file:", err)
			return
		}
	}

	backend, err := buildBackend(config, labels)
	if err != nil {
		fmt.Println("Failed to build backend:", err)
		return
	}

	pipe, err := engine.NewPipeline(backend, labels, engine.Config{
		ConfThreshold: config.ConfThreshold,
		IouThreshold:  config.IouThreshold,
		MaxDetections: config.MaxDetections,
		InputWidth:    config.InputWidth,
		InputHeight:   config.InputHeight,
		Normalize:     config.Normalize,
		ClassAwareNMS: config.ClassAwareNMS,
	})
	if err != nil {
		fmt.Println("Failed to create pipeline:", err)
		return
	}

	policy := iface.PolicyCoalesce
	if config.SchedulingPolicy == "skip" {
		policy = iface.PolicySkip
	} else if config.SchedulingPolicy != "" && config.SchedulingPolicy != "coalesce" {
		fmt.Println("Invalid SchedulingPolicy in config, defaulting to coalesce")
	}
	sched := scheduler.New(pipe, policy, config.FrameSkipBudget)

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.StartMon(config.MonitorPort, ctx)

	wg.Add(1)
	if config.UseRegServer {
		announce.RegServerCfg = announce.RegServerConfig{}
		announce.RegServerCfg.SetAddress(config.RegServerHost, config.RegServerPort)
		go announce.SendAliveMessage(ip, config.HTTPPort, config.ModelPath, ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
		wg.Done()
	}

	r := setupRouter(pipe, sched)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HTTPPort),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Println("HTTP server error:", err)
		}
	}()
	fmt.Println("Serving on port", config.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down")
	_ = srv.Shutdown(ctx)
	sched.Close()
	_ = pipe.Close()
	cancel()
	wg.Wait()
	fmt.Println("Safely exited")
}
