package mapper

import (
	"docchat-client/internal/dto"
	"docchat-client/internal/entity"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Citation Mappers

func (m *ChatMapper) CitationToEntity(c dto.CitationDTO) entity.Citation {
	out := entity.Citation{
		Excerpt: c.Excerpt,
		Source:  c.Source,
		URL:     c.URL,
		Chapter: c.Chapter,
	}
	if c.Page != nil {
		p := *c.Page
		out.Page = &p
	}
	return out
}

func (m *ChatMapper) CitationsToEntity(in []dto.CitationDTO) []entity.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]entity.Citation, len(in))
	for i, c := range in {
		out[i] = m.CitationToEntity(c)
	}
	return out
}

func (m *ChatMapper) CitationToDTO(c entity.Citation) dto.CitationDTO {
	out := dto.CitationDTO{
		Excerpt: c.Excerpt,
		Source:  c.Source,
		URL:     c.URL,
		Chapter: c.Chapter,
	}
	if c.Page != nil {
		p := *c.Page
		out.Page = &p
	}
	return out
}

func (m *ChatMapper) CitationsToDTO(in []entity.Citation) []dto.CitationDTO {
	if len(in) == 0 {
		return nil
	}
	out := make([]dto.CitationDTO, len(in))
	for i, c := range in {
		out[i] = m.CitationToDTO(c)
	}
	return out
}
