package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/transferval/internal/admin"
	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/models"
)

var (
	responderAprobar  bool
	responderRechazar bool
	responderObs      string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Act as an admin terminal",
}

var pendientesCmd = &cobra.Command{
	Use:   "pendientes",
	Short: "List transfers waiting for a decision",
	RunE:  runPendientes,
}

var responderCmd = &cobra.Command{
	Use:   "responder <id>",
	Short: "Approve or reject a pending transfer",
	Args:  cobra.ExactArgs(1),
	RunE:  runResponder,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the pending queue until interrupted",
	RunE:  runWatch,
}

func init() {
	responderCmd.Flags().BoolVar(&responderAprobar, "aprobar", false, "approve the transfer")
	responderCmd.Flags().BoolVar(&responderRechazar, "rechazar", false, "reject the transfer")
	responderCmd.Flags().StringVar(&responderObs, "obs", "", "observaciones sent to the cashier")
	responderCmd.MarkFlagsMutuallyExclusive("aprobar", "rechazar")
	responderCmd.MarkFlagsOneRequired("aprobar", "rechazar")

	adminCmd.AddCommand(pendientesCmd, responderCmd, watchCmd)
	rootCmd.AddCommand(adminCmd)
}

// startAdmin connects, starts a coordinator and returns a channel that
// receives the queue after every change, starting with the hub's list.
func startAdmin(ctx context.Context) (*session, *admin.Coordinator, <-chan []models.TransferenciaPendiente, error) {
	sess, err := connect(ctx, models.RoomAdmin)
	if err != nil {
		return nil, nil, nil, err
	}
	changes := make(chan []models.TransferenciaPendiente, 16)
	coord := admin.New(sess.client, sess.nombre, admin.WithLogger(sess.logger), admin.WithOnChange(func(list []models.TransferenciaPendiente) {
		select {
		case changes <- list:
		default:
			// Consumers only need the newest list.
			select {
			case <-changes:
			default:
			}
			select {
			case changes <- list:
			default:
			}
		}
	}))
	coord.Start(ctx)
	return sess, coord, changes, nil
}

func awaitList(ctx context.Context, changes <-chan []models.TransferenciaPendiente) ([]models.TransferenciaPendiente, error) {
	select {
	case list := <-changes:
		return list, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no pending list from hub: %w", ctx.Err())
	}
}

func runPendientes(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	sess, coord, changes, err := startAdmin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer coord.Stop()

	list, err := awaitList(ctx, changes)
	if err != nil {
		return err
	}
	printPending(cmd.OutOrStdout(), list)
	return nil
}

func runResponder(cmd *cobra.Command, args []string) error {
	id := domain.ServerID(args[0])

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	sess, coord, changes, err := startAdmin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer coord.Stop()

	if _, err := awaitList(ctx, changes); err != nil {
		return err
	}
	ok, err := coord.Resolve(ctx, id, responderAprobar, responderObs)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotPending, id)
	}

	status := domain.StatusForDecision(responderAprobar)
	fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", status, id)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, coord, changes, err := startAdmin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer coord.Stop()

	out := cmd.OutOrStdout()
	for {
		select {
		case list := <-changes:
			fmt.Fprintf(out, "--- %s  %d pendiente(s)\n", time.Now().Format("15:04:05"), len(list))
			printPending(out, list)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

func printPending(out io.Writer, list []models.TransferenciaPendiente) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No pending transfers")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVALE\tCAJERO\tCLIENTE\tMONTO\tCUENTA\tESPERANDO\tNOTA")
	for _, p := range list {
		waiting := time.Since(time.UnixMilli(p.CreatedAt)).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.NumeroVale, p.CajeroNombre, p.ClienteNombre, p.Monto.StringFixed(2), p.CuentaDestino, waiting, p.Mensaje)
	}
	w.Flush()
}
