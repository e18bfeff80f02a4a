package service

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// Profiles exposes the subset of the profile store this service owns.
type Profiles struct {
	d Deps
}

// ProfileInput is the editable part of a profile.
type ProfileInput struct {
	Name      string
	Gender    string
	Age       int
	BirthDate string // YYYY-MM-DD, optional
	Interests []string
	City      string
}

// Get returns a profile by user ID.
func (p *Profiles) Get(ctx context.Context, userID string) (*model.Profile, error) {
	prof, err := p.d.Store.Profiles.Get(ctx, p.d.Store.DB, userID)
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	return prof, nil
}

// Upsert validates and stores the caller's profile.
func (p *Profiles) Upsert(ctx context.Context, userID string, in ProfileInput) (*model.Profile, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 128 {
		return nil, apperr.Validation("name is required")
	}
	g, err := model.ParseGender(in.Gender)
	if err != nil {
		return nil, apperr.Validation("gender must be male or female")
	}
	if in.Age != 0 && (in.Age < 18 || in.Age > 100) {
		return nil, apperr.Validation("age must be between 18 and 100")
	}
	var birth *time.Time
	if s := strings.TrimSpace(in.BirthDate); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, apperr.Validation("birth_date must be YYYY-MM-DD")
		}
		birth = &t
	}
	if len(in.Interests) > 10 {
		return nil, apperr.Validation("at most 10 interests")
	}
	interests := make([]string, 0, len(in.Interests))
	for _, v := range in.Interests {
		v = strings.TrimSpace(strings.ReplaceAll(v, ",", " "))
		if v != "" {
			interests = append(interests, v)
		}
	}
	prof := &model.Profile{
		UserID:    userID,
		Name:      name,
		Gender:    g,
		Age:       in.Age,
		BirthDate: birth,
		Interests: interests,
		City:      strings.TrimSpace(in.City),
	}
	if err := p.d.Store.Profiles.Upsert(ctx, p.d.Store.DB, prof, p.d.now()); err != nil {
		return nil, storeErr("save profile", err)
	}
	return p.Get(ctx, userID)
}
