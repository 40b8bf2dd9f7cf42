package chat

func (m *Model) mainWidth() int {
	if m.width < 1 {
		return 0
	}
	return m.width
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}

	width := m.mainWidth()
	inputWidth := width - inputPadding
	if inputWidth < 1 {
		inputWidth = 1
	}
	m.input.SetWidth(inputWidth)
	lineCount := m.input.LineCount()
	if lineCount < 1 {
		lineCount = 1
	}
	if lineCount > inputMaxHeight {
		lineCount = inputMaxHeight
	}
	m.input.SetHeight(lineCount)
	inputHeight := m.input.Height() + 1

	headerHeight := 1
	typingHeight := 1
	statusHeight := 1
	m.viewport.Width = width
	m.viewport.Height = m.height - headerHeight - inputHeight - typingHeight - statusHeight
	if m.viewport.Height < 1 {
		m.viewport.Height = 1
	}
	if m.initialScroll {
		m.refreshViewport(true, "")
		m.initialScroll = false
		return
	}
	m.refreshViewport(false, "")
}
