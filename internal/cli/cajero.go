package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/transferval/internal/cashier"
	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/transport"
)

var (
	solicitarCliente    string
	solicitarMonto      string
	solicitarCuenta     string
	solicitarReferencia string
	solicitarVale       string
	cancelarMotivo      string
)

var errRejected = errors.New("transferencia no validada")

var cajeroCmd = &cobra.Command{
	Use:   "cajero",
	Short: "Act as a cashier terminal",
}

var solicitarCmd = &cobra.Command{
	Use:   "solicitar",
	Short: "Request validation of a transfer and wait for the outcome",
	Long: `Send a transfer to the admins for validation and block until it is
approved, rejected, cancelled or timed out. Interrupting the command cancels
the request.`,
	RunE: runSolicitar,
}

var cancelarCmd = &cobra.Command{
	Use:   "cancelar <id>",
	Short: "Cancel a pending validation",
	Long: `Cancel a validation by its hub id. Connect with the same --nombre that
made the request.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancelar,
}

func init() {
	solicitarCmd.Flags().StringVar(&solicitarCliente, "cliente", "", "client name")
	solicitarCmd.Flags().StringVar(&solicitarMonto, "monto", "", "amount, e.g. 50000 or 1250.50")
	solicitarCmd.Flags().StringVar(&solicitarCuenta, "cuenta", "", "destination account")
	solicitarCmd.Flags().StringVar(&solicitarReferencia, "referencia", "", "free-form reference")
	solicitarCmd.Flags().StringVar(&solicitarVale, "vale", "", "voucher number")
	_ = solicitarCmd.MarkFlagRequired("monto")
	_ = solicitarCmd.MarkFlagRequired("cuenta")
	_ = solicitarCmd.MarkFlagRequired("vale")

	cancelarCmd.Flags().StringVar(&cancelarMotivo, "motivo", "Cancelado por el cajero", "reason shown to admins")

	cajeroCmd.AddCommand(solicitarCmd, cancelarCmd)
	rootCmd.AddCommand(cajeroCmd)
}

func runSolicitar(cmd *cobra.Command, args []string) error {
	monto, err := decimal.NewFromString(solicitarMonto)
	if err != nil {
		return fmt.Errorf("invalid --monto %q: %w", solicitarMonto, err)
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	sess, err := connect(ctx, models.RoomCajero)
	if err != nil {
		return err
	}
	defer sess.Close()

	coord := cashier.New(sess.client, domain.NewAccountSet(sess.cfg.Accounts...))
	defer coord.Close()

	corr, err := coord.Submit(ctx, domain.TransferDetails{
		CajeroNombre:  sess.nombre,
		ClienteNombre: solicitarCliente,
		Monto:         monto,
		CuentaDestino: solicitarCuenta,
		Referencia:    solicitarReferencia,
		NumeroVale:    solicitarVale,
	})
	if err != nil {
		return err
	}
	updates, err := coord.Observe(string(corr))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			printUpdate(out, u.Request)
			if u.Terminal() {
				if u.Request.Status != domain.StatusApproved {
					return fmt.Errorf("%w: %s", errRejected, u.Request.Status)
				}
				return nil
			}
		case <-ctx.Done():
			// Interrupted or out of time: withdraw the request, then wait
			// briefly for the hub to confirm.
			cancelCtx, cancelDone := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelDone()
			outcomes := watchOutcomes(sess.client)
			defer outcomes.stop()

			if err := coord.Cancel(cancelCtx, string(corr), "Cancelado por el cajero"); err != nil {
				return err
			}
			err := drainUntilTerminal(cancelCtx, out, updates)
			if werr := outcomes.await(cancelCtx, coord, string(corr)); werr != nil {
				return fmt.Errorf("hub did not confirm the cancellation of %s: %w", corr, werr)
			}
			return err
		}
	}
}

func drainUntilTerminal(ctx context.Context, out io.Writer, updates <-chan cashier.Update) error {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			printUpdate(out, u.Request)
			if u.Terminal() {
				if u.Request.Status == domain.StatusApproved {
					return nil
				}
				return fmt.Errorf("%w: %s", errRejected, u.Request.Status)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// hubOutcomes collects the server ids the hub reported a final outcome for.
type hubOutcomes struct {
	ids  chan domain.ServerID
	subs transport.SubscriptionSet
}

func watchOutcomes(t transport.Transport) *hubOutcomes {
	o := &hubOutcomes{ids: make(chan domain.ServerID, 16)}
	for _, event := range []string{
		models.EventValidacionCancelada,
		models.EventResultadoValidacion,
		models.EventValidacionTimeout,
	} {
		o.subs.Add(t.Subscribe(event, func(msg transport.Message) {
			var ev struct {
				ID domain.ServerID `json:"id"`
			}
			if msg.Decode(&ev) != nil || ev.ID == "" {
				return
			}
			select {
			case o.ids <- ev.ID:
			default:
			}
		}))
	}
	return o
}

func (o *hubOutcomes) stop() { o.subs.Unsubscribe() }

// await blocks until the hub has acknowledged the request behind corr and
// reported its outcome. A cancel made before the acknowledgment is only
// forwarded once the server id arrives, so the connection has to stay open
// until then.
func (o *hubOutcomes) await(ctx context.Context, coord *cashier.Coordinator, corr string) error {
	seen := make(map[domain.ServerID]bool)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		req, ok := coord.Get(corr)
		if !ok || (req.ID != "" && seen[req.ID]) {
			return nil
		}
		select {
		case id := <-o.ids:
			seen[id] = true
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printUpdate(out io.Writer, r domain.ValidationRequest) {
	id := string(r.ID)
	if id == "" {
		id = "(" + string(r.CorrelationID) + ")"
	}
	fmt.Fprintf(out, "%-9s %s", r.Status, id)
	if r.Message != "" {
		fmt.Fprintf(out, "  %s", r.Message)
	}
	fmt.Fprintln(out)
}

func runCancelar(cmd *cobra.Command, args []string) error {
	id := domain.ServerID(args[0])

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	sess, err := connect(ctx, models.RoomCajero)
	if err != nil {
		return err
	}
	defer sess.Close()

	confirmed := make(chan models.ValidacionCancelada, 1)
	sub := sess.client.Subscribe(models.EventValidacionCancelada, func(msg transport.Message) {
		var ev models.ValidacionCancelada
		if msg.Decode(&ev) == nil && ev.ID == id {
			select {
			case confirmed <- ev:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	if err := sess.client.Emit(ctx, models.EventCancelarValidacion, models.CancelarValidacion{ID: id, Motivo: cancelarMotivo}); err != nil {
		return fmt.Errorf("cancelar validacion: %w", err)
	}

	select {
	case ev := <-confirmed:
		fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s  %s\n", domain.StatusCancelled, ev.ID, ev.Mensaje)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no confirmation from hub for %s (not pending, or owned by another cashier): %w", id, ctx.Err())
	}
}
