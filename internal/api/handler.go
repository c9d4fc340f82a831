package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"stock_review/internal/models"
	"stock_review/internal/service"
	"stock_review/internal/watchlist"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Runner 复盘流水线
type Runner interface {
	NewTask(date string) *models.ReportTask
	Execute(ctx context.Context, task *models.ReportTask, opts service.RunOptions) (*service.RunResult, error)
	GetTaskProgress(taskID string) (*models.ReportTask, error)
	Watchlists(date string) (*watchlist.Result, bool, error)
}

// Handler API 处理器
type Handler struct {
	runner  Runner
	db      *gorm.DB
	logger  *zap.Logger
	running sync.Mutex
	timeout time.Duration
}

// NewHandler 创建处理器；db 为 nil 时任务列表不可用
func NewHandler(runner Runner, db *gorm.DB, logger *zap.Logger) *Handler {
	return &Handler{
		runner:  runner,
		db:      db,
		logger:  logger,
		timeout: 30 * time.Minute,
	}
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ReportRequest 生成报告请求，date 为空时自动探测最新交易日
type ReportRequest struct {
	Date    string `json:"date" binding:"omitempty,len=8,numeric"`
	Publish bool   `json:"publish"`
	Cover   string `json:"cover"`
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// 健康检查
		api.GET("/health", h.HealthCheck)

		api.POST("/report", h.CreateReport)
		api.GET("/progress/:task_id", h.GetProgress)
		api.GET("/tasks", h.ListTasks)
		api.GET("/watchlist/:date", h.GetWatchlist)
	}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "OK",
		Data: gin.H{
			"status": "healthy",
		},
	})
}

// CreateReport 异步生成当日复盘，同一时间只允许一个任务
func (h *Handler) CreateReport(c *gin.Context) {
	var req ReportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Code:    400,
				Message: "参数错误: " + err.Error(),
			})
			return
		}
	}

	if !h.running.TryLock() {
		c.JSON(http.StatusConflict, Response{
			Code:    409,
			Message: "已有复盘任务在运行",
		})
		return
	}

	task := h.runner.NewTask(req.Date)
	h.logger.Info("收到复盘请求",
		zap.String("task_id", task.TaskID),
		zap.String("date", req.Date),
		zap.Bool("publish", req.Publish))

	// 异步执行复盘任务
	go func() {
		defer h.running.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		opts := service.RunOptions{Date: req.Date, Publish: req.Publish, Cover: req.Cover}
		if _, err := h.runner.Execute(ctx, task, opts); err != nil {
			h.logger.Error("复盘任务失败", zap.String("task_id", task.TaskID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "任务已启动，请查询进度",
		Data: gin.H{
			"task_id": task.TaskID,
		},
	})
}

// GetProgress 获取任务进度
func (h *Handler) GetProgress(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := h.runner.GetTaskProgress(taskID)
	if errors.Is(err, service.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Code:    404,
			Message: "任务不存在",
		})
		return
	}
	if err != nil {
		h.logger.Error("查询任务进度失败", zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "查询任务进度失败",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    task,
	})
}

// ListTasks 获取任务列表
func (h *Handler) ListTasks(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Code:    503,
			Message: "未配置数据库",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	var tasks []models.ReportTask
	var total int64

	h.db.Model(&models.ReportTask{}).Count(&total)
	h.db.Order("created_at desc").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&tasks)

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data: gin.H{
			"list":  tasks,
			"total": total,
			"page":  page,
		},
	})
}

// GetWatchlist 获取某日已生成的两个观察池
func (h *Handler) GetWatchlist(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse("20060102", date); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "日期格式应为 YYYYMMDD",
		})
		return
	}

	lists, ok, err := h.runner.Watchlists(date)
	if err != nil {
		h.logger.Error("读取观察池失败", zap.String("date", date), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: err.Error(),
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, Response{
			Code:    404,
			Message: "该日观察池尚未生成",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data: gin.H{
			"date":            date,
			"large_flow":      models.NewWatchlistRecords(lists.LargeFlow),
			"sector_momentum": models.NewWatchlistRecords(lists.SectorMomentum),
		},
	})
}
