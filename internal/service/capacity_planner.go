package service

import (
	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

// PlanCapacity derives a room's effective and per-course capacity.
// A buffer larger than the room degrades to zero capacity.
func PlanCapacity(raw, buffer int, mode models.DensityMode) (effective, perCourse int) {
	effective = raw - buffer
	if effective < 0 {
		effective = 0
	}
	perCourse = effective
	if mode == models.ModeSparse {
		perCourse = effective / 2
	}
	return effective, perCourse
}

// PlanRooms applies PlanCapacity to every room, keeping input order.
func PlanRooms(inputs []models.RoomInput, params models.RunParams, logger *zap.Logger) []models.Room {
	if logger == nil {
		logger = zap.NewNop()
	}
	rooms := make([]models.Room, 0, len(inputs))
	for _, in := range inputs {
		effective, perCourse := PlanCapacity(in.RawCapacity, params.Buffer, params.Mode)
		rooms = append(rooms, models.Room{
			Building:          in.Building,
			Room:              in.Room,
			RawCapacity:       in.RawCapacity,
			EffectiveCapacity: effective,
			PerCourseCapacity: perCourse,
		})
		logger.Debug("room capacity planned",
			zap.String("building", in.Building),
			zap.String("room", in.Room),
			zap.Int("raw", in.RawCapacity),
			zap.Int("effective", effective),
			zap.Int("per_course", perCourse),
			zap.String("mode", string(params.Mode)),
		)
	}
	return rooms
}
