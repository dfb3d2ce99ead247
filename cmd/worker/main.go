package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"scheduling/internal/config"
	"scheduling/internal/mailer"
	"scheduling/internal/queue"
	"scheduling/internal/scheduling"
	"scheduling/internal/store"
)

// Worker consumes notification messages, composes the email from current
// store state and delivers it through the mail relay. Failures are logged
// and dropped; nothing here ever feeds back into the booking path.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.StoreBackend == "memory" {
		log.Fatal("worker requires a shared store; STORE_BACKEND=memory is per-process")
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "scheduling:notifications")
	}

	st := scheduling.NewRepository(db.Client)
	mail := mailer.New(cfg.MailRelayURL, cfg.MailFrom, cfg.MailSkip)

	if !cfg.MailSkip {
		if err := mail.Health(ctx); err != nil {
			log.Printf("WARNING: mail relay not available: %v", err)
			log.Println("worker will retry delivery as messages arrive")
		} else {
			log.Println("mail relay connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if err := handle(ctx, st, mail, cfg.BookingLinkBase, msg); err != nil {
			log.Printf("%s notification for student %s failed: %v", msg.Kind, msg.StudentID, err)
			continue
		}
		log.Printf("%s notification for student %s sent", msg.Kind, msg.StudentID)
	}

	log.Println("worker stopped")
}

func handle(ctx context.Context, st scheduling.Store, mail *mailer.Client, linkBase string, msg queue.Message) error {
	student, err := st.GetStudent(ctx, msg.StudentID)
	if err != nil {
		return fmt.Errorf("load student: %w", err)
	}
	if student.Email == "" {
		return fmt.Errorf("student has no email")
	}

	cfg, err := st.GetConfig(ctx, student.ConfigID)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch msg.Kind {
	case queue.KindLoginCode:
		if student.EmailSent {
			return nil
		}
		subject := fmt.Sprintf("Your ID-card appointment code — %s", cfg.Title)
		body := fmt.Sprintf(
			"Dear %s,\n\nYour one-time login code is %s.\n\nBook your slot at %s/%s using your student id and this code.\n",
			student.FullName, student.LoginCode, linkBase, cfg.ID)
		if err := mail.Send(ctx, student.Email, subject, body); err != nil {
			return err
		}
		return st.MarkNotified(ctx, student.ID)

	case queue.KindBooked:
		appt, err := st.AppointmentByStudent(ctx, student.ID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt == nil {
			// Cancelled before the worker got to it.
			return nil
		}
		subject := fmt.Sprintf("Appointment confirmed — %s", cfg.Title)
		body := fmt.Sprintf(
			"Dear %s,\n\nYour ID-card appointment is confirmed for %s at %s.\n",
			student.FullName, appt.Date.Format("Monday, 2 January 2006"), appt.Time)
		return mail.Send(ctx, student.Email, subject, body)

	case queue.KindCancelled:
		subject := fmt.Sprintf("Appointment cancelled — %s", cfg.Title)
		body := fmt.Sprintf(
			"Dear %s,\n\nYour ID-card appointment has been cancelled. You can book a new slot at %s/%s.\n",
			student.FullName, linkBase, cfg.ID)
		return mail.Send(ctx, student.Email, subject, body)

	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}
