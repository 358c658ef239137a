package service

import (
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/gateway"
	"parking-service/internal/utils"
)

// queueSettlement hands a closed ticket to the settlement queue. A ticket that was never
// registered with the partner waits until it has a plate; the review correction sends it then.
func queueSettlement(queue SettlementQueue, log zerolog.Logger, cam parking.Camera, ticket parking.Ticket, adapters gateway.Adapters) {
	if queue == nil || adapters.Settlement == nil {
		return
	}
	if ticket.State != parking.TicketClosed {
		return
	}
	if ticket.SettlementRef == nil && utils.Deref(ticket.PlateNumber) == "" {
		log.Info().Int64("ticket_id", ticket.ID).Msg("settlement deferred until the plate is known")
		return
	}

	rec := parking.SettlementRecord{
		TicketID:      ticket.ID,
		CameraID:      ticket.CameraID,
		SpotNumber:    ticket.SpotNumber,
		APIPoleID:     cam.APIPoleID,
		PlateNumber:   utils.Deref(ticket.PlateNumber),
		PlateCode:     utils.Deref(ticket.PlateCode),
		PlateCity:     utils.Deref(ticket.PlateCity),
		Confidence:    utils.Deref(ticket.Confidence),
		EntryTime:     ticket.EntryTime,
		ExitTime:      utils.Deref(ticket.ExitTime),
		SettlementRef: ticket.SettlementRef,
	}
	if err := queue.Enqueue(adapters.Settlement, rec); err != nil {
		log.Error().Err(err).Int64("ticket_id", ticket.ID).Msg("failed to queue settlement")
	}
}
