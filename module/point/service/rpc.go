package service

import (
	"context"
	"strings"

	"PPost/module/point"
	"PPost/module/point/model"
	"PPost/module/watch"
	"PPost/service/rpc"
	"PPost/service/storage"
	"PPost/tools/errs"
	"PPost/tools/geo"

	"go.uber.org/zap"
)

type NearbyParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
	WatchID   string  `json:"watchId,omitempty"`
	Subject   string  `json:"subject,omitempty"`
}

type IDParams struct {
	ID string `json:"id"`
}

type ConfirmParams struct {
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"`
}

type StopWatchParams struct {
	WatchID string `json:"watchId"`
}

type UserInfoParams struct {
	SubjectID string `json:"subjectId"`
}

func (s *Service) register() {
	s.ch.Handle(rpc.MethodGetNearbyPoints, s.getNearbyPoints)
	s.ch.Handle(rpc.MethodGetPointByID, s.getPointByID)
	s.ch.Handle(rpc.MethodConfirmPoint, s.confirmPoint)
	s.ch.Handle(rpc.MethodStopWatch, s.stopWatch)
	s.ch.Handle(rpc.MethodCreatePoint, s.createPoint)
	s.ch.Handle(rpc.MethodListPoints, s.listPoints)
}

// Nearby runs a one-shot proximity query over every stored point.
func (s *Service) Nearby(ctx context.Context, origin geo.Coord, radius float64) ([]model.NearbyPoint, error) {
	all, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find points", "err", err)
	}
	return s.finder.NearbyPoints(ctx, origin, all, radius)
}

// getNearbyPoints answers synchronously. With a watchId it also feeds the
// live watch, whose notifications go out as pointsNearby events.
func (s *Service) getNearbyPoints(ctx context.Context, params rpc.Params) (any, error) {
	var p NearbyParams
	if err := params.Decode(&p); err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	origin := geo.Coord{Latitude: p.Latitude, Longitude: p.Longitude}
	if !origin.Valid() {
		return nil, errs.ErrArgs.WrapMsg("coordinates out of range", "lat", p.Latitude, "lon", p.Longitude)
	}
	if p.Radius <= 0 {
		p.Radius = s.radius
	}
	nearby, qerr := s.Nearby(ctx, origin, p.Radius)
	if p.WatchID != "" {
		loc := watch.Location{
			WatchID: p.WatchID, Subject: p.Subject,
			Latitude: p.Latitude, Longitude: p.Longitude, Radius: p.Radius,
		}
		if err := s.reg.Locate(ctx, loc, nearby, qerr); err != nil {
			return nil, err
		}
	}
	if qerr != nil {
		s.log.Warn("[pointstore] nearby query failed", zap.String("watchId", p.WatchID), zap.Error(qerr))
		return nil, qerr
	}
	return nearby, nil
}

// getPointByID replies null for unknown ids.
func (s *Service) getPointByID(ctx context.Context, params rpc.Params) (any, error) {
	var p IDParams
	if err := params.Decode(&p); err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	pt, err := s.store.FindByID(ctx, p.ID)
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find point", "id", p.ID, "err", err)
	}
	if pt == nil {
		return nil, nil
	}
	return pt, nil
}

func (s *Service) confirmPoint(ctx context.Context, params rpc.Params) (any, error) {
	var p ConfirmParams
	if err := params.Decode(&p); err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.ID == "" || p.SubjectID == "" {
		return nil, errs.ErrArgs.WrapMsg("id and subjectId required")
	}
	return s.lc.Confirm(ctx, p.ID, p.SubjectID)
}

// stopWatch is idempotent.
func (s *Service) stopWatch(ctx context.Context, params rpc.Params) (any, error) {
	var p StopWatchParams
	if err := params.Decode(&p); err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	return nil, s.reg.Stop(ctx, p.WatchID)
}

func (s *Service) createPoint(ctx context.Context, params rpc.Params) (any, error) {
	var np point.NewPoint
	if err := params.Decode(&np); err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	if strings.TrimSpace(np.CreatedByName) == "" && np.CreatedBy != "" {
		np.CreatedByName = s.displayName(ctx, np.CreatedBy)
	}
	return s.lc.Create(ctx, np)
}

func (s *Service) listPoints(ctx context.Context, _ rpc.Params) (any, error) {
	all, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find points", "err", err)
	}
	return all, nil
}

// displayName resolves subject through the cache, then the front-end. Any
// failure falls back to the raw id.
func (s *Service) displayName(ctx context.Context, subject string) string {
	if u, ok, err := s.users.Get(ctx, subject); err == nil && ok {
		return u.DisplayName()
	} else if err != nil {
		s.log.Debug("[pointstore] user cache", zap.Error(err))
	}
	res, err := s.ch.Call(ctx, rpc.MethodGetUserInfo, UserInfoParams{SubjectID: subject})
	if err != nil || res.IsNull() {
		s.log.Debug("[pointstore] getUserInfo", zap.String("subject", subject), zap.Error(err))
		return subject
	}
	var u storage.UserInfo
	if err := res.Decode(&u); err != nil {
		return subject
	}
	if u.ID == "" {
		u.ID = subject
	}
	if err := s.users.Put(ctx, u); err != nil {
		s.log.Debug("[pointstore] user cache put", zap.Error(err))
	}
	return u.DisplayName()
}
