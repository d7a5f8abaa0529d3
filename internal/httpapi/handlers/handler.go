package handlers

import (
	"go.uber.org/zap"

	"github.com/mfifer/docchat/internal/chat"
	"github.com/mfifer/docchat/internal/store/rabbitmq"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

type Handler struct {
	Svc    *chat.Service
	Jobs   *chat.JobRepo
	Rabbit *rabbitmq.Publisher
	Log    *zap.Logger
}

func NewHandler(svc *chat.Service, jobs *chat.JobRepo, rabbit *rabbitmq.Publisher, log *zap.Logger) *Handler {
	return &Handler{Svc: svc, Jobs: jobs, Rabbit: rabbit, Log: log}
}
