package projector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/skillnet-labs/examchain-backend/internal/domain"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/store"
)

type examCreatedProjector struct {
	store *domain.Store
	log   *logger.Logger
}

func (p *examCreatedProjector) Kind() event.Kind { return event.ExamCreated }

func (p *examCreatedProjector) Project(ctx context.Context, evt *store.ChainEvent) (bool, error) {
	examID, ok := requireStructured(evt)
	if !ok {
		p.log.Debugw("skipping ExamCreated without structured payload", "eventId", evt.ID)
		return false, nil
	}

	name := evt.Payload.String("name")
	if name == "" {
		name = "Exam " + examID
	}

	var creator *string
	if c := evt.Payload.String("creator"); c != "" {
		creator = &c
	}

	exam, created, err := p.store.FindOrCreateExam(ctx, &domain.Exam{
		ID:              examID,
		Name:            name,
		IsCertification: true,
		CreatorAddress:  creator,
	})
	if err != nil {
		return false, err
	}

	if created {
		p.log.Infow("exam created", "examId", exam.ID, "name", exam.Name)

		err = p.store.CreateNotification(ctx, nil, domain.NotificationInfo,
			"New Exam Created",
			fmt.Sprintf("A new exam %q has been created. Please update its details in the admin panel.", exam.Name))
		if err != nil {
			return false, err
		}
	}

	return true, nil
}

type userRegisteredProjector struct {
	store *domain.Store
	log   *logger.Logger
}

func (p *userRegisteredProjector) Kind() event.Kind { return event.UserRegistered }

func (p *userRegisteredProjector) Project(ctx context.Context, evt *store.ChainEvent) (bool, error) {
	examID, ok := requireStructured(evt)
	if !ok {
		return false, nil
	}

	wallet := evt.Payload.String("user")
	if wallet == "" {
		return false, nil
	}

	exam, err := p.store.GetExam(ctx, examID)
	if err != nil {
		return false, err
	}
	if exam == nil {
		p.log.Debugw("registration for unknown exam, leaving unprocessed",
			"examId", examID, "eventId", evt.ID)
		return false, nil
	}

	user, _, err := p.store.FindOrCreateUserByWallet(ctx, wallet)
	if err != nil {
		return false, err
	}

	_, created, err := p.store.FindOrCreateRegistration(ctx, user.ID, exam.ID)
	if err != nil {
		return false, err
	}

	if created {
		p.log.Infow("user registered", "examId", exam.ID, "userId", user.ID)

		err = p.store.CreateNotification(ctx, &user.ID, domain.NotificationSuccess,
			"Registration Confirmed",
			fmt.Sprintf("You are registered for %q.", exam.Name))
		if err != nil {
			return false, err
		}
	}

	return true, nil
}

type examCompletedProjector struct {
	store *domain.Store
	log   *logger.Logger
}

func (p *examCompletedProjector) Kind() event.Kind { return event.ExamCompleted }

func (p *examCompletedProjector) Project(ctx context.Context, evt *store.ChainEvent) (bool, error) {
	examID, ok := requireStructured(evt)
	if !ok {
		return false, nil
	}

	wallet := evt.Payload.String("user")
	if wallet == "" {
		return false, nil
	}

	exam, err := p.store.GetExam(ctx, examID)
	if err != nil {
		return false, err
	}
	if exam == nil {
		return false, nil
	}

	user, err := p.store.GetUserByWallet(ctx, wallet)
	if err != nil {
		return false, err
	}
	if user == nil {
		p.log.Debugw("completion for unknown user, leaving unprocessed",
			"examId", examID, "eventId", evt.ID)
		return false, nil
	}

	reg, err := p.store.GetRegistration(ctx, user.ID, exam.ID)
	if err != nil {
		return false, err
	}
	if reg == nil {
		return false, nil
	}

	score, err := strconv.Atoi(evt.Payload.String("score"))
	if err != nil {
		p.log.Warnw("unparseable score, leaving unprocessed",
			"score", evt.Payload.String("score"), "eventId", evt.ID)
		return false, nil
	}

	isPassed := evt.Payload.Bool("passed")
	completionTime := evt.BlockTimestamp

	_, _, err = p.store.UpsertResult(ctx, reg, score, isPassed, &completionTime)
	if err != nil {
		return false, err
	}

	p.log.Infow("exam completed", "examId", exam.ID, "userId", user.ID,
		"score", score, "passed", isPassed)

	title, typ := "Exam Passed", domain.NotificationSuccess
	message := fmt.Sprintf("You passed %q with a score of %d.", exam.Name, score)
	if !isPassed {
		title, typ = "Exam Not Passed", domain.NotificationInfo
		message = fmt.Sprintf("You scored %d on %q. You can register again.", score, exam.Name)
	}

	if err := p.store.CreateNotification(ctx, &user.ID, typ, title, message); err != nil {
		return false, err
	}

	return true, nil
}

type certificateIssuedProjector struct {
	store *domain.Store
	log   *logger.Logger
}

func (p *certificateIssuedProjector) Kind() event.Kind { return event.CertificateIssued }

func (p *certificateIssuedProjector) Project(ctx context.Context, evt *store.ChainEvent) (bool, error) {
	examID, ok := requireStructured(evt)
	if !ok {
		return false, nil
	}

	exam, err := p.store.GetExam(ctx, examID)
	if err != nil {
		return false, err
	}
	if exam == nil {
		return false, nil
	}

	url := evt.Payload.String("certificateURI")
	if url == "" {
		return false, nil
	}

	updated, err := p.store.SetCertificateURL(ctx, exam.ID, url)
	if err != nil {
		return false, err
	}

	p.log.Infow("certificates issued", "examId", exam.ID, "results", len(updated))

	for _, result := range updated {
		err := p.store.CreateNotification(ctx, &result.UserID, domain.NotificationSuccess,
			"Certificate Issued",
			fmt.Sprintf("Your certificate for %q is available.", exam.Name))
		if err != nil {
			return false, err
		}
	}

	return true, nil
}
